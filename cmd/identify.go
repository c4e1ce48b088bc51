package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/index"
	"github.com/facegate/facegate/internal/store"
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Find the enrolled users most similar to an image",
	Long: `Search all stored templates for the faces nearest to the one in the
given image. A diagnostic for operators ("who does this capture look
like"); login never searches, it only verifies the claimed identity.

Examples:
  facegate identify --image /tmp/unknown.jpg
  facegate identify --image /tmp/unknown.jpg -k 5`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().String("image", "", "Path to the image file (required)")
	identifyCmd.Flags().IntP("neighbors", "k", 3, "Number of candidates to report")
	_ = identifyCmd.MarkFlagRequired("image")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	imagePath := mustGetString(cmd, "image")
	k := mustGetInt(cmd, "neighbors")

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

	infos, err := p.templates.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No users enrolled")
		return nil
	}

	bar := progressbar.Default(int64(len(infos)), "scanning templates")
	templates := make([]store.Template, 0, len(infos))
	for _, info := range infos {
		tpl, err := p.templates.Load(info.Username)
		if err == nil {
			templates = append(templates, *tpl)
		}
		_ = bar.Add(1)
	}

	idx := index.New()
	if err := idx.Build(templates); err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	matches, err := idx.Nearest(emb.Vector, k)
	if err != nil {
		return err
	}

	fmt.Printf("\nNearest enrolled users (threshold %.4f):\n", p.engine.Threshold())
	for i, m := range matches {
		marker := " "
		if m.Distance < p.engine.Threshold() {
			marker = "*"
		}
		fmt.Printf("%s %d. %-20s distance=%.4f quality=%.2f\n", marker, i+1, m.Username, m.Distance, m.Quality)
	}
	return nil
}
