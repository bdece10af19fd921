package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

var (
	historyClear bool
	historyLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Ask a question across all indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer app.Close()

		results, err := app.Searcher.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		printResults(cmd.OutOrStdout(), results)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear past searches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		if historyClear {
			if err := app.Store.ClearSearches(cmd.Context()); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Search history cleared.")
			return nil
		}
		items, err := app.Store.ListSearches(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("list history: %w", err)
		}
		printHistory(cmd.OutOrStdout(), items)
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete all recorded searches")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", store.DefaultHistoryLimit, "number of searches to show")

	rootCmd.AddCommand(searchCmd, historyCmd)
}
