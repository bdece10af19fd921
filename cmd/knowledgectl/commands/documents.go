package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/knowledgeflow/internal/export"
)

var (
	exportFormat string
	exportOutput string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed documents, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		docs, err := app.Store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		printDocuments(cmd.OutOrStdout(), docs)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document's metadata and contents overview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		doc, err := app.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get document %s: %w", args[0], err)
		}
		printDocument(cmd.OutOrStdout(), doc)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a document from the knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.Store.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete document %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write a document as JSON or Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer app.Close()

		doc, err := app.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get document %s: %w", args[0], err)
		}
		r, err := export.Render(doc, exportFormat)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			target := exportOutput
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				target = filepath.Join(target, r.FileName)
			}
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			defer f.Close()
			out = f
			defer fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", target)
		}
		_, err = io.WriteString(out, r.Content)
		return err
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", export.FormatMarkdown, "output format: json or markdown")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "file or directory to write to (default stdout)")

	rootCmd.AddCommand(listCmd, showCmd, deleteCmd, exportCmd)
}
