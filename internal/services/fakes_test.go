package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/knowledgeflow/internal/extract"
	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedDocument(id, fileName string) *models.Document {
	return &models.Document{
		ID:          id,
		FileName:    fileName,
		FileHash:    "hash-" + id,
		Metadata:    models.DocumentMetadata{Title: "Title " + id, KeyPoints: []string{}},
		Sections:    []models.Section{{ID: "s-" + id, Title: "Scope", Content: "Applies to everyone.", PageNumber: 1}},
		Tables:      []models.Table{},
		Images:      []models.Image{},
		TOC:         []string{},
		ProcessedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

// scriptedGenerator answers every call with the same text or error.
type scriptedGenerator struct {
	mu     sync.Mutex
	text   string
	err    error
	prompt string
	calls  int
}

func (g *scriptedGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	for _, p := range parts {
		if txt, ok := p.(genai.Text); ok {
			g.prompt = string(txt)
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(g.text)}},
	}}}, nil
}

func noRetry() extract.RetryPolicy {
	return extract.RetryPolicy{MaxRetries: 0}
}

// blockingIngester reports progress for its pages and then waits for
// release, honouring the cancellation flag.
type blockingIngester struct {
	release chan struct{}
	started chan string
	err     error
}

func newBlockingIngester() *blockingIngester {
	return &blockingIngester{release: make(chan struct{}), started: make(chan string, 16)}
}

func (b *blockingIngester) Ingest(ctx context.Context, src pipeline.Source, flag *pipeline.CancellationFlag, sink pipeline.ProgressSink) (*pipeline.Result, error) {
	if sink != nil {
		sink.Report(0, 4)
		sink.Report(2, 4)
	}
	b.started <- src.DocumentID

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if flag.Cancelled() {
			return &pipeline.Result{
				Document:  &models.Document{ID: src.DocumentID, FileName: src.FileName},
				Summary:   pipeline.Summary{Total: 4, Completed: 2, Cancelled: true},
				Cancelled: true,
			}, nil
		}
		select {
		case <-b.release:
			if b.err != nil {
				return nil, b.err
			}
			if sink != nil {
				sink.Report(4, 4)
			}
			return &pipeline.Result{
				Document:  &models.Document{ID: src.DocumentID, FileName: src.FileName},
				Summary:   pipeline.Summary{Total: 4, Completed: 4},
				Persisted: true,
			}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type fakeRunTracker struct {
	mu        sync.Mutex
	runs      map[string]models.IngestionRun
	progress  [][2]int
	cancelled chan struct{}
	finishErr error
}

func newFakeRunTracker() *fakeRunTracker {
	return &fakeRunTracker{runs: map[string]models.IngestionRun{}, cancelled: make(chan struct{})}
}

func (t *fakeRunTracker) Start(_ context.Context, run *models.IngestionRun) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.ID] = *run
	return nil
}

func (t *fakeRunTracker) Progress(_ context.Context, id string, completed, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = append(t.progress, [2]int{completed, total})
	run := t.runs[id]
	run.Completed, run.Total = completed, total
	t.runs[id] = run
	return nil
}

func (t *fakeRunTracker) Finish(_ context.Context, run *models.IngestionRun) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.ID] = *run
	return t.finishErr
}

func (t *fakeRunTracker) GetRun(_ context.Context, id string) (*models.IngestionRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &run, nil
}

func (t *fakeRunTracker) RequestCancel(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.CancelRequested = true
	t.runs[id] = run
	return nil
}

func (t *fakeRunTracker) WatchCancellation(ctx context.Context, _ string, onCancel func()) {
	select {
	case <-t.cancelled:
		onCancel()
	case <-ctx.Done():
	}
}

func (t *fakeRunTracker) only(tb testing.TB) models.IngestionRun {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	require.Len(tb, t.runs, 1)
	for _, r := range t.runs {
		return r
	}
	return models.IngestionRun{}
}
