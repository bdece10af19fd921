// Package commands implements the knowledgectl command tree.
package commands

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "knowledgectl",
	Short: "Manage a local PDF knowledge base",
	Long: `knowledgectl indexes PDF documents into a local SQLite knowledge base using
Gemini on Vertex AI, and lets you list, search and export what was extracted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if dbPath != "" {
			return os.Setenv("SQLITE_PATH", dbPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "knowledge base file (overrides SQLITE_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
