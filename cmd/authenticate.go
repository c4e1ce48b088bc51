package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/pam"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate [username]",
	Short: "PAM authentication entry point (invoked by pam_exec)",
	Long: `Authenticate the claimed user against their stored face template.

The username comes from the argument or, under pam_exec, from the
PAM_USER environment variable. The process exit status is the PAM return
code; no decision detail is printed to the terminal.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runAuthenticate(args).ExitCode())
	},
}

func init() {
	rootCmd.AddCommand(authenticateCmd)
}

func runAuthenticate(args []string) pam.Code {
	p, err := buildPipeline()
	if err != nil {
		// Nothing safe to vouch for without configuration; let the
		// stack fall through to its next method.
		fmt.Fprintf(os.Stderr, "facegate: authenticate: %v\n", err)
		return pam.ServiceErr
	}

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}

	// The login stack may terminate us at any point; the context keeps
	// in-flight captures from outliving the session.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handler := pam.NewHandler(pam.Options{
		MaxAttempts:    p.cfg.Auth.MaxAttempts,
		AttemptTimeout: p.cfg.Auth.AttemptTimeout,
		MaxFrameSize:   p.cfg.Camera.MaxFrameSize,
		Model:          p.cfg.Embedding.Model,
	}, p.templates, p.engine, p.extract, p.source, p.lock, nil)

	return handler.Authenticate(ctx, pam.Username(arg))
}
