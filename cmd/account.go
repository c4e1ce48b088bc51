package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/pam"
)

var accountCmd = &cobra.Command{
	Use:   "account [username]",
	Short: "PAM account-validity entry point (invoked by pam_exec)",
	Long: `Check whether the claimed user is enrolled with a template for the
deployed model version. Recomputed independently of the authentication
phase; never touches the camera.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runAccount(args).ExitCode())
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}

func runAccount(args []string) pam.Code {
	p, err := buildPipeline()
	if err != nil {
		fmt.Fprintf(os.Stderr, "facegate: account: %v\n", err)
		return pam.ServiceErr
	}

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	handler := pam.NewHandler(pam.Options{
		MaxAttempts:    p.cfg.Auth.MaxAttempts,
		AttemptTimeout: p.cfg.Auth.AttemptTimeout,
		MaxFrameSize:   p.cfg.Camera.MaxFrameSize,
		Model:          p.cfg.Embedding.Model,
	}, p.templates, p.engine, p.extract, p.source, p.lock, nil)

	return handler.AccountValidity(pam.Username(arg))
}
