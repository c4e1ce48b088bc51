package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <username>",
	Short: "Check an image file against a stored template",
	Long: `Run the authentication decision against an image file instead of a live
capture. Intended for threshold tuning: the computed distance is printed,
which never happens on the login path.

Examples:
  facegate verify alice --image /tmp/alice-test.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("image", "", "Path to the image file (required)")
	_ = verifyCmd.MarkFlagRequired("image")
}

func runVerify(cmd *cobra.Command, args []string) error {
	username := args[0]
	imagePath := mustGetString(cmd, "image")

	p, err := buildPipeline()
	if err != nil {
		return err
	}

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	emb, err := p.extract.Extract(context.Background(), imageData)
	if err != nil {
		return fmt.Errorf("extracting face: %w", err)
	}

	decision, err := p.engine.Decide(username, emb)
	if err != nil {
		return err
	}

	verdict := "DENY"
	if decision.Allow {
		verdict = "ALLOW"
	}
	fmt.Printf("%s  user=%s reason=%s distance=%.4f threshold=%.4f\n",
		verdict, username, decision.Reason, decision.Distance, p.engine.Threshold())
	return nil
}
