package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/facegate/facegate/internal/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <username>",
	Short: "Capture a face template for a user",
	Long: `Enroll a user by capturing a reference frame from the camera.

Frames are captured one at a time; after each capture, press SPACE to
commit the frame, any other key to retry, or ESC to abort. Re-enrolling
an existing user replaces their template.

Examples:
  # Interactive enrollment
  facegate enroll alice

  # Headless provisioning: commit the first captured frame
  facegate enroll alice --commit-first`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Bool("commit-first", false, "Commit the first captured frame without prompting")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	username := args[0]
	commitFirst := mustGetBool(cmd, "commit-first")

	p, err := buildPipeline()
	if err != nil {
		return err
	}

	// Enrollment reads the camera too; the same exclusive lock applies.
	if err := p.lock.Acquire(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	defer p.lock.Release()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := enroll.New(enroll.Options{
		CaptureTimeout: p.cfg.Auth.AttemptTimeout,
		MaxFrameSize:   p.cfg.Camera.MaxFrameSize,
		MinDetScore:    p.cfg.Embedding.MinDetScore,
	}, p.source, p.extract, p.templates)

	trigger := keypressTrigger()
	if commitFirst {
		trigger = func(int) (enroll.Action, error) { return enroll.Commit, nil }
	} else {
		fmt.Printf("Enrolling %s. Look at the camera.\n", username)
	}

	result, err := pipeline.Enroll(ctx, username, trigger)
	if err != nil {
		return fmt.Errorf("enrolling %s: %w", username, err)
	}

	if result.Replaced {
		fmt.Printf("Template for %s replaced (id %s, quality %.2f, model %s)\n",
			username, result.Template.ID, result.Template.Quality, result.Template.Model)
	} else {
		fmt.Printf("Enrolled %s (id %s, quality %.2f, model %s)\n",
			username, result.Template.ID, result.Template.Quality, result.Template.Model)
	}
	return nil
}

// keypressTrigger reads a single raw keypress per captured frame:
// SPACE commits, ESC or q aborts, anything else retries.
func keypressTrigger() enroll.Trigger {
	return func(attempt int) (enroll.Action, error) {
		fmt.Printf("Frame %d captured. [SPACE] commit  [ESC] abort  [any] retry: ", attempt)

		fd := int(os.Stdin.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return enroll.Abort, fmt.Errorf("enabling raw terminal mode: %w", err)
		}

		buf := make([]byte, 1)
		_, readErr := os.Stdin.Read(buf)
		_ = term.Restore(fd, oldState)
		fmt.Println()
		if readErr != nil {
			return enroll.Abort, fmt.Errorf("reading keypress: %w", readErr)
		}

		switch buf[0] {
		case ' ':
			return enroll.Commit, nil
		case 27, 'q': // ESC
			return enroll.Abort, nil
		default:
			return enroll.Retry, nil
		}
	}
}
