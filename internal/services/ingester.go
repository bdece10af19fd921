package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/google/uuid"

	"github.com/Lllllllleong/knowledgeflow/internal/export"
	"github.com/Lllllllleong/knowledgeflow/internal/extract"
	"github.com/Lllllllleong/knowledgeflow/internal/gcp"
	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/render"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// IngesterConfig holds all configuration for the ingestion function.
type IngesterConfig struct {
	ProjectID           string
	FirestoreDatabase   string
	VertexAIRegion      string
	Model               string
	DocumentsCollection string
	HistoryCollection   string
	RunsCollection      string
	ExportBucket        string
	WorkflowID          string
	WorkflowLocation    string
	Concurrency         int
}

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ObjectFetcher downloads a whole storage object.
type ObjectFetcher func(ctx context.Context, bucket, object string) ([]byte, error)

// DocumentExporter publishes a finished document somewhere outside the store.
type DocumentExporter func(ctx context.Context, doc *models.Document) error

// CompletionNotifier is told about every completed ingestion.
type CompletionNotifier interface {
	Completed(ctx context.Context, runID string, res *pipeline.Result) error
}

// IngestFunction turns PDFs uploaded to a bucket into stored documents.
type IngestFunction struct {
	fetch    ObjectFetcher
	docs     store.DocumentStore
	runs     store.RunTracker
	ingester Ingester
	export   DocumentExporter
	notifier CompletionNotifier
}

// IngestFunctionDeps wires an IngestFunction. Export and Notifier are optional.
type IngestFunctionDeps struct {
	Fetch    ObjectFetcher
	Docs     store.DocumentStore
	Runs     store.RunTracker
	Ingester Ingester
	Export   DocumentExporter
	Notifier CompletionNotifier
}

// loadIngesterConfig loads and validates all necessary environment variables for this service.
func loadIngesterConfig() (*IngesterConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return &IngesterConfig{
		ProjectID:           projectID,
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:               gcp.GetEnv("GEMINI_MODEL", gcp.DefaultModel),
		DocumentsCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		HistoryCollection:   gcp.GetEnv("HISTORY_COLLECTION", "search_history"),
		RunsCollection:      gcp.GetEnv("RUNS_COLLECTION", "ingestions"),
		ExportBucket:        gcp.GetEnv("EXPORT_BUCKET", ""),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		Concurrency:         gcp.GetEnvInt("PAGE_CONCURRENCY", pipeline.DefaultConcurrency),
	}, nil
}

// NewIngester builds the ingestion function from the environment.
func NewIngester(ctx context.Context) (*IngestFunction, error) {
	config, err := loadIngesterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	docs := store.NewFirestoreStore(firestoreClient, config.DocumentsCollection, config.HistoryCollection)
	extractor := extract.NewVertexExtractor(vertexClient, extract.DefaultRetryPolicy())
	ingestor := pipeline.NewIngestor(pipeline.IngestorConfig{
		Renderer:    render.NewFitzRenderer(),
		Extractor:   extractor,
		Metadata:    extractor,
		Saver:       docs,
		Concurrency: config.Concurrency,
	})

	deps := IngestFunctionDeps{
		Fetch: func(ctx context.Context, bucket, object string) ([]byte, error) {
			return gcp.ReadObject(ctx, storageClient, bucket, object)
		},
		Docs:     docs,
		Runs:     store.NewFirestoreRunTracker(firestoreClient, config.RunsCollection),
		Ingester: ingestor,
	}
	if config.ExportBucket != "" {
		deps.Export = BucketExporter(storageClient.Bucket(config.ExportBucket))
	}
	if config.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		deps.Notifier = NewWorkflowNotifier(executionsClient, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	}

	slog.Info("Knowledge ingester initialized.",
		"model", config.Model,
		"concurrency", config.Concurrency,
		"exportBucket", config.ExportBucket,
		"workflowId", config.WorkflowID)
	return NewIngestFunction(deps), nil
}

// NewIngestFunction assembles an IngestFunction from explicit collaborators.
func NewIngestFunction(deps IngestFunctionDeps) *IngestFunction {
	return &IngestFunction{
		fetch:    deps.Fetch,
		docs:     deps.Docs,
		runs:     deps.Runs,
		ingester: deps.Ingester,
		export:   deps.Export,
		notifier: deps.Notifier,
	}
}

// Process ingests one uploaded object. Duplicates and non-PDF objects are
// skipped without error.
func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Ignoring non-PDF object.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	data, err := f.fetch(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])
	logCtx = logCtx.With("fileHash", fileHash)

	existing, err := f.docs.FindByHash(ctx, fileHash)
	switch {
	case err == nil:
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing.ID)
		return nil // Clean exit for a duplicate
	case !errors.Is(err, store.ErrNotFound):
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}

	run := &models.IngestionRun{
		ID:         uuid.NewString(),
		DocumentID: uuid.NewString(),
		FileName:   path.Base(e.Name),
		FileHash:   fileHash,
		Status:     models.RunStatusProcessing,
	}
	if err := f.runs.Start(ctx, run); err != nil {
		logCtx.Error("Failed to create ingestion run", "error", err)
		return err
	}
	logCtx = logCtx.With("runId", run.ID, "documentId", run.DocumentID)

	flag := pipeline.NewCancellationFlag()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go f.runs.WatchCancellation(watchCtx, run.ID, func() {
		logCtx.Info("Cancellation requested.")
		flag.Cancel()
	})

	sink := newRunProgressSink(ctx, f.runs, run.ID)
	res, err := f.ingester.Ingest(ctx, pipeline.Source{
		DocumentID: run.DocumentID,
		FileName:   run.FileName,
		Data:       data,
		FileHash:   fileHash,
	}, flag, sink)
	stopWatch()
	if err != nil {
		return f.handleError(ctx, logCtx, run, "ingestion failed", err)
	}

	applyOutcome(run, res, nil)
	if run.Status == models.RunStatusFailed {
		return f.handleError(ctx, logCtx, run, "failed to persist document", res.PersistErr)
	}
	if err := f.runs.Finish(ctx, run); err != nil {
		logCtx.Error("Failed to record run outcome", "error", err)
	}
	if res.Cancelled {
		logCtx.Info("Ingestion cancelled.", "completed", res.Summary.Completed, "total", res.Summary.Total)
		return nil
	}

	if f.export != nil {
		if err := f.export(ctx, res.Document); err != nil {
			logCtx.Error("Failed to export document", "error", err)
		}
	}
	if f.notifier != nil {
		if err := f.notifier.Completed(ctx, run.ID, res); err != nil {
			logCtx.Error("Failed to hand off to workflow", "error", err)
		}
	}
	logCtx.Info("Ingestion complete.", "pageCount", res.Summary.Total, "failedPages", res.Summary.FailedPages())
	return nil
}

func (f *IngestFunction) handleError(ctx context.Context, logCtx *slog.Logger, run *models.IngestionRun, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	run.Status = models.RunStatusFailed
	var ingestErr *pipeline.IngestError
	if errors.As(originalErr, &ingestErr) {
		run.Error = ingestErr.UserMessage()
	} else {
		run.Error = fullError
	}
	if err := f.runs.Finish(ctx, run); err != nil {
		logCtx.Error("CRITICAL: Failed to update run status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}

// BucketExporter writes the JSON and Markdown renditions of a document to
// bucket under the document id.
func BucketExporter(bucket *storage.BucketHandle) DocumentExporter {
	return func(ctx context.Context, doc *models.Document) error {
		var errs []error
		for _, format := range []string{export.FormatJSON, export.FormatMarkdown} {
			r, err := export.Render(doc, format)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			objectName := fmt.Sprintf("%s/%s", doc.ID, r.FileName)
			if err := gcp.SaveToGCSAtomically(ctx, bucket, objectName, r.ContentType, r.Content); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// minProgressInterval limits how often progress is written to the run record.
const minProgressInterval = 2 * time.Second

// runProgressSink forwards progress to the run tracker, skipping updates that
// arrive too soon after the previous one. The first and last are always sent.
type runProgressSink struct {
	ctx  context.Context
	runs store.RunTracker
	id   string

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newRunProgressSink(ctx context.Context, runs store.RunTracker, id string) *runProgressSink {
	return &runProgressSink{ctx: ctx, runs: runs, id: id, now: time.Now}
}

func (s *runProgressSink) Report(completed, total int) {
	s.mu.Lock()
	now := s.now()
	edge := completed == 0 || completed == total
	if !edge && now.Sub(s.last) < minProgressInterval {
		s.mu.Unlock()
		return
	}
	s.last = now
	s.mu.Unlock()

	if err := s.runs.Progress(s.ctx, s.id, completed, total); err != nil {
		slog.Warn("Failed to record progress", "runId", s.id, "error", err)
	}
}
