package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/store"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Remove a user's face template",
	Long: `Delete the stored template for a user. The name must match exactly;
deleting a user who has no template is not an error, so account-lifecycle
cleanup can call this unconditionally.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	username := args[0]

	p, err := buildPipeline()
	if err != nil {
		return err
	}

	existed := true
	if _, err := p.templates.Load(username); errors.Is(err, store.ErrNotEnrolled) {
		existed = false
	}

	if err := p.templates.Delete(username); err != nil {
		return err
	}

	if existed {
		fmt.Printf("Deleted template for %s\n", username)
	} else {
		fmt.Printf("No template for %s; nothing to delete\n", username)
	}
	return nil
}
