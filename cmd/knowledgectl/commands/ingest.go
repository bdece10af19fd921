package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/knowledgeflow/cmd/knowledgectl/ui"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

var ingestForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Index a PDF into the knowledge base",
	Long: `Index a PDF page by page. Press Ctrl-C once to stop after the pages in
flight (nothing is saved), twice to abort immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "index even if the same file was indexed before")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	fileName := filepath.Base(args[0])

	ctx, abort := context.WithCancel(cmd.Context())
	defer abort()

	app, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer app.Close()

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])
	if !ingestForce {
		existing, err := app.Store.FindByHash(ctx, fileHash)
		switch {
		case err == nil:
			fmt.Fprintf(cmd.OutOrStdout(), "%s is already indexed as %s (use --force to index again)\n", fileName, existing.ID)
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("check for duplicate: %w", err)
		}
	}

	flag := pipeline.NewCancellationFlag()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchInterrupts(ctx, sigs, flag, abort, cmd.ErrOrStderr())

	bar := ui.NewPageProgress(cmd.ErrOrStderr(), "Indexing "+fileName)
	res, err := app.Ingestor.Ingest(ctx, pipeline.Source{
		DocumentID: uuid.NewString(),
		FileName:   fileName,
		Data:       data,
		FileHash:   fileHash,
	}, flag, bar)
	if err != nil {
		bar.Stop()
		var ingestErr *pipeline.IngestError
		if errors.As(err, &ingestErr) {
			return fmt.Errorf("%s (%w)", ingestErr.UserMessage(), err)
		}
		return err
	}
	if res.Cancelled {
		bar.Stop()
	} else {
		bar.Finish()
	}

	fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
	if res.PersistErr != nil {
		return fmt.Errorf("document could not be saved: %w", res.PersistErr)
	}
	return nil
}

// watchInterrupts sets the cancellation flag on the first signal and aborts
// the context on the second.
func watchInterrupts(ctx context.Context, sigs <-chan os.Signal, flag *pipeline.CancellationFlag, abort context.CancelFunc, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if !flag.Cancelled() {
				flag.Cancel()
				fmt.Fprintln(out, "\nStopping after the pages in flight. Press Ctrl-C again to abort.")
				continue
			}
			fmt.Fprintln(out, "\nAborting.")
			abort()
			return
		}
	}
}

func describeResult(res *pipeline.Result) string {
	s := res.Summary
	switch {
	case res.Cancelled:
		return fmt.Sprintf("Cancelled after %d of %d pages. Nothing was saved.", s.Completed, s.Total)
	case res.PersistErr != nil:
		return fmt.Sprintf("Processed %d pages but the document was not saved.", s.Total)
	}
	msg := fmt.Sprintf("Indexed %q as %s (%d pages", res.Document.DisplayTitle(), res.Document.ID, s.Total)
	if failed := s.FailedPages(); len(failed) > 0 {
		msg += fmt.Sprintf(", pages %v failed", failed)
	}
	return msg + ")."
}
