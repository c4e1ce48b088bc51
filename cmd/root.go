package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face-based login for the Linux PAM stack",
	Long: `Facegate replaces password login with face verification. The same binary
serves two roles: the PAM entry points (authenticate, account) invoked by
pam_exec.so during login, and the operator tools for enrolling users and
managing stored templates.

PAM configuration (per consuming service, e.g. /etc/pam.d/login):

  auth    sufficient pam_exec.so quiet /usr/bin/facegate authenticate
  account sufficient pam_exec.so quiet /usr/bin/facegate account`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
