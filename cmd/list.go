package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled users",
	Long: `List all users with a stored face template. Only metadata is shown;
template vectors never leave the store.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("filter", "", "Show only usernames matching the filter (case and diacritic insensitive)")
}

func runList(cmd *cobra.Command, args []string) error {
	filter := mustGetString(cmd, "filter")

	p, err := buildPipeline()
	if err != nil {
		return err
	}

	infos, err := p.templates.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tMODEL\tQUALITY\tENROLLED")
	count := 0
	for _, info := range infos {
		if !store.MatchesName(info.Username, filter) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n",
			info.Username, info.Model, info.Quality, info.CreatedAt.Format("2006-01-02 15:04"))
		count++
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d enrolled user(s)\n", count)
	return nil
}
