package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// ErrUploadUnsupported is returned by services that ingest from a bucket
// rather than from direct uploads.
var ErrUploadUnsupported = errors.New("direct uploads are not supported; upload the PDF to the ingestion bucket")

// ErrShuttingDown is returned by Start once Shutdown has been called.
var ErrShuttingDown = errors.New("ingestion manager is shutting down")

// IngestionService starts, inspects and cancels ingestion runs.
type IngestionService interface {
	Start(ctx context.Context, fileName string, data []byte) (*models.IngestionRun, error)
	Get(ctx context.Context, id string) (*models.IngestionRun, error)
	Cancel(ctx context.Context, id string) (*models.IngestionRun, error)
}

// Ingester is implemented by *pipeline.Ingestor.
type Ingester interface {
	Ingest(ctx context.Context, src pipeline.Source, flag *pipeline.CancellationFlag, sink pipeline.ProgressSink) (*pipeline.Result, error)
}

type managedRun struct {
	run  models.IngestionRun
	flag *pipeline.CancellationFlag
	done chan struct{}
}

// IngestionManager runs ingestions in the background for the local server.
// Starting a new ingestion of a file name that is still being processed
// cancels the older run.
type IngestionManager struct {
	ingester Ingester
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	runs     map[string]*managedRun
	byFile   map[string]string
	closed   bool
	wg       sync.WaitGroup
	runCtx   context.Context
	stopRuns context.CancelFunc
}

var _ IngestionService = (*IngestionManager)(nil)

func NewIngestionManager(ingester Ingester, logger *slog.Logger) *IngestionManager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &IngestionManager{
		ingester: ingester,
		logger:   logger,
		now:      time.Now,
		runs:     make(map[string]*managedRun),
		byFile:   make(map[string]string),
		runCtx:   ctx,
		stopRuns: cancel,
	}
}

// Start registers a run and processes it asynchronously. The returned run is
// a snapshot in PROCESSING state.
func (m *IngestionManager) Start(_ context.Context, fileName string, data []byte) (*models.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}

	if prevID, ok := m.byFile[fileName]; ok {
		if prev := m.runs[prevID]; prev != nil && !prev.run.Finished() {
			m.logger.Info("Superseding running ingestion.", "runId", prevID, "fileName", fileName)
			prev.flag.Cancel()
		}
	}

	mr := &managedRun{
		run: models.IngestionRun{
			ID:         uuid.NewString(),
			DocumentID: uuid.NewString(),
			FileName:   fileName,
			Status:     models.RunStatusProcessing,
			StartedAt:  m.now().UTC(),
		},
		flag: pipeline.NewCancellationFlag(),
		done: make(chan struct{}),
	}
	m.runs[mr.run.ID] = mr
	m.byFile[fileName] = mr.run.ID

	m.wg.Add(1)
	go m.execute(mr, data)

	snapshot := mr.run
	return &snapshot, nil
}

func (m *IngestionManager) execute(mr *managedRun, data []byte) {
	defer m.wg.Done()
	defer close(mr.done)

	logCtx := m.logger.With("runId", mr.run.ID, "documentId", mr.run.DocumentID)
	sink := pipeline.ProgressSinkFunc(func(completed, total int) {
		m.mu.Lock()
		mr.run.Completed, mr.run.Total = completed, total
		m.mu.Unlock()
	})

	src := pipeline.Source{DocumentID: mr.run.DocumentID, FileName: mr.run.FileName, Data: data}
	res, err := m.ingester.Ingest(m.runCtx, src, mr.flag, sink)

	m.mu.Lock()
	defer m.mu.Unlock()
	applyOutcome(&mr.run, res, err)
	mr.run.FinishedAt = m.now().UTC()
	if m.byFile[mr.run.FileName] == mr.run.ID {
		delete(m.byFile, mr.run.FileName)
	}
	logCtx.Info("Ingestion run finished.", "status", mr.run.Status, "completed", mr.run.Completed, "total", mr.run.Total)
}

// applyOutcome maps the result of an ingestion onto its run record.
func applyOutcome(run *models.IngestionRun, res *pipeline.Result, err error) {
	if err != nil {
		run.Status = models.RunStatusFailed
		var ingestErr *pipeline.IngestError
		if errors.As(err, &ingestErr) {
			run.Error = ingestErr.UserMessage()
		} else {
			run.Error = err.Error()
		}
		return
	}
	run.Completed, run.Total = res.Summary.Completed, res.Summary.Total
	run.FailedPages = res.Summary.FailedPages()
	switch {
	case res.Cancelled:
		run.Status = models.RunStatusCancelled
	case res.PersistErr != nil:
		run.Status = models.RunStatusFailed
		run.Error = fmt.Sprintf("document could not be saved: %v", res.PersistErr)
	default:
		run.Status = models.RunStatusCompleted
	}
}

func (m *IngestionManager) Get(_ context.Context, id string) (*models.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	snapshot := mr.run
	return &snapshot, nil
}

// Cancel sets the run's cancellation flag. The run stops before its next
// batch; a finished run is returned unchanged.
func (m *IngestionManager) Cancel(ctx context.Context, id string) (*models.IngestionRun, error) {
	m.mu.Lock()
	mr, ok := m.runs[id]
	if ok {
		mr.flag.Cancel()
		mr.run.CancelRequested = true
	}
	m.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Get(ctx, id)
}

// Wait blocks until the run has finished or ctx ends.
func (m *IngestionManager) Wait(ctx context.Context, id string) (*models.IngestionRun, error) {
	m.mu.Lock()
	mr, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	select {
	case <-mr.done:
		return m.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every active run and waits for them to stop.
func (m *IngestionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, mr := range m.runs {
		mr.flag.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stopRuns()
		return nil
	case <-ctx.Done():
		m.stopRuns()
		return ctx.Err()
	}
}

// RunStatusService serves ingestion runs recorded by the ingestion Cloud
// Function. New ingestions are started by uploading to the bucket.
type RunStatusService struct {
	runs store.RunTracker
}

var _ IngestionService = (*RunStatusService)(nil)

func NewRunStatusService(runs store.RunTracker) *RunStatusService {
	return &RunStatusService{runs: runs}
}

func (s *RunStatusService) Start(context.Context, string, []byte) (*models.IngestionRun, error) {
	return nil, ErrUploadUnsupported
}

func (s *RunStatusService) Get(ctx context.Context, id string) (*models.IngestionRun, error) {
	return s.runs.GetRun(ctx, id)
}

func (s *RunStatusService) Cancel(ctx context.Context, id string) (*models.IngestionRun, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Finished() {
		return run, nil
	}
	if err := s.runs.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	run.CancelRequested = true
	return run, nil
}
