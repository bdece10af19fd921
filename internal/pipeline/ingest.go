package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// PageImage is one rendered page ready to be sent to the model.
type PageImage struct {
	PageNumber int
	MIMEType   string
	Data       []byte
	Width      int
	Height     int
}

// PageRenderer turns pages of a PDF into images.
type PageRenderer interface {
	PageCount(ctx context.Context, pdf []byte) (int, error)
	Render(ctx context.Context, pdf []byte, page int) (*PageImage, error)
}

// PageExtractor pulls structured knowledge out of one page image. Retries
// are its own business; the scheduler only sees the final outcome.
type PageExtractor interface {
	ExtractPage(ctx context.Context, img *PageImage, page int) (*PageExtraction, error)
}

// MetadataExtractor reads document-level metadata from the first page.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, img *PageImage) (*models.DocumentMetadata, error)
}

// DocumentSaver persists a finished document.
type DocumentSaver interface {
	Upsert(ctx context.Context, doc *models.Document) error
}

// Source is the PDF handed to an ingestion.
type Source struct {
	// DocumentID is optional; a UUID is generated when empty.
	DocumentID string
	FileName   string
	Data       []byte
	// FileHash is optional; the sha256 of Data is used when empty.
	FileHash string
}

// Result is published once per run, after the scheduler returns.
type Result struct {
	Document  *models.Document
	Summary   Summary
	Cancelled bool
	Persisted bool
	// PersistErr is set when the final save failed. The in-memory document in
	// Result is still complete.
	PersistErr error
}

// IngestorConfig wires the collaborators of an Ingestor. Saver may be nil,
// in which case results are returned but never persisted.
type IngestorConfig struct {
	Renderer    PageRenderer
	Extractor   PageExtractor
	Metadata    MetadataExtractor
	Saver       DocumentSaver
	Concurrency int
	Logger      *slog.Logger
}

// Ingestor runs the whole ingestion of a PDF: metadata from page one, then all
// pages through the batch scheduler into an aggregator, then the final save.
type Ingestor struct {
	renderer  PageRenderer
	extractor PageExtractor
	metadata  MetadataExtractor
	saver     DocumentSaver
	scheduler *Scheduler
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestor creates a new Ingestor instance.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		renderer:  cfg.Renderer,
		extractor: cfg.Extractor,
		metadata:  cfg.Metadata,
		saver:     cfg.Saver,
		scheduler: NewScheduler(cfg.Concurrency, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest processes src. It returns an *IngestError when the document as a
// whole cannot be processed; page failures and cancellation are reported in
// the Result instead.
func (in *Ingestor) Ingest(ctx context.Context, src Source, flag *CancellationFlag, sink ProgressSink) (*Result, error) {
	docID := src.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	logCtx := in.logger.With("documentId", docID, "fileName", src.FileName)
	logCtx.Info("Starting ingestion.", "bytes", len(src.Data))

	pageCount, err := in.renderer.PageCount(ctx, src.Data)
	if err != nil {
		logCtx.Error("Failed to read PDF", "error", err)
		return nil, stageError(StageValidate, err)
	}
	if pageCount < 1 {
		return nil, stageError(StageValidate, ErrNoPages)
	}

	firstPage, err := in.renderer.Render(ctx, src.Data, 1)
	if err != nil {
		logCtx.Error("Failed to render first page", "error", err)
		return nil, stageError(StageRender, err)
	}
	metadata, err := in.metadata.ExtractMetadata(ctx, firstPage)
	if err != nil {
		logCtx.Error("Metadata extraction failed; aborting ingestion", "error", err)
		return nil, stageError(StageMetadata, err)
	}

	hash := src.FileHash
	if hash == "" {
		sum := sha256.Sum256(src.Data)
		hash = hex.EncodeToString(sum[:])
	}
	agg := NewAggregator(&models.Document{
		ID:          docID,
		FileName:    src.FileName,
		FileSize:    int64(len(src.Data)),
		FileHash:    hash,
		Metadata:    *metadata,
		ProcessedAt: in.now().UTC(),
	})

	if sink != nil {
		sink.Report(0, pageCount)
	}
	logCtx.Info("Metadata extracted; processing pages.", "pageCount", pageCount, "concurrency", in.scheduler.Width())

	process := func(ctx context.Context, page int) error {
		img := firstPage
		if page != 1 {
			rendered, err := in.renderer.Render(ctx, src.Data, page)
			if err != nil {
				return fmt.Errorf("render page %d: %w", page, err)
			}
			img = rendered
		}
		ext, err := in.extractor.ExtractPage(ctx, img, page)
		if err != nil {
			return fmt.Errorf("extract page %d: %w", page, err)
		}
		stats := agg.Merge(page, ext)
		logCtx.Debug("Page merged.", "page", page,
			"sections", stats.Sections, "tables", stats.Tables, "images", stats.Images, "skipped", stats.Skipped)
		return nil
	}

	var onProgress ProgressFunc
	if sink != nil {
		onProgress = sink.Report
	}
	summary := in.scheduler.Run(ctx, pageCount, process, flag, onProgress)

	res := &Result{
		Document:  agg.Document(),
		Summary:   summary,
		Cancelled: summary.Cancelled,
	}
	logCtx = logCtx.With("completed", summary.Completed, "total", summary.Total, "failedPages", len(summary.FailedPages()))

	if res.Cancelled {
		logCtx.Warn("Ingestion cancelled; partial document not persisted.")
		return res, nil
	}
	if in.saver == nil {
		logCtx.Info("Ingestion complete.")
		return res, nil
	}
	if err := in.saver.Upsert(ctx, res.Document); err != nil {
		logCtx.Error("Failed to persist document", "error", err)
		res.PersistErr = err
		return res, nil
	}
	res.Persisted = true
	logCtx.Info("Ingestion complete; document persisted.")
	return res, nil
}
