package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/knowledgeflow/internal/extract"
	"github.com/Lllllllleong/knowledgeflow/internal/gcp"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/render"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// ErrModelsDisabled is returned when an operation needs Vertex AI but no
// project is configured.
var ErrModelsDisabled = errors.New("PROJECT_ID must be set to ingest or search")

// LocalConfig holds configuration for the local server and CLI.
type LocalConfig struct {
	ProjectID      string
	VertexAIRegion string
	Model          string
	SQLitePath     string
	Port           string
	Concurrency    int
}

func loadLocalConfig() *LocalConfig {
	return &LocalConfig{
		ProjectID:      gcp.GetEnv("PROJECT_ID", ""),
		VertexAIRegion: gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:          gcp.GetEnv("GEMINI_MODEL", gcp.DefaultModel),
		SQLitePath:     gcp.GetEnv("SQLITE_PATH", "knowledge.db"),
		Port:           gcp.GetEnv("PORT", "8080"),
		Concurrency:    gcp.GetEnvInt("PAGE_CONCURRENCY", pipeline.DefaultConcurrency),
	}
}

// LocalApp is the SQLite-backed knowledge base used by the local binaries.
// Ingestor and Searcher are nil until models are enabled.
type LocalApp struct {
	Config   *LocalConfig
	Store    *store.SQLiteStore
	Ingestor *pipeline.Ingestor
	Searcher *Searcher

	vertex *gcp.VertexClient
}

// NewLocalApp opens the local store. With withModels set it also connects to
// Vertex AI, which requires PROJECT_ID.
func NewLocalApp(ctx context.Context, withModels bool) (*LocalApp, error) {
	config := loadLocalConfig()
	st, err := store.NewSQLiteStore(ctx, config.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	app := &LocalApp{Config: config, Store: st}
	if !withModels {
		return app, nil
	}
	if err := app.enableModels(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

func (a *LocalApp) enableModels(ctx context.Context) error {
	if a.Config.ProjectID == "" {
		return ErrModelsDisabled
	}
	vertexClient, err := gcp.NewVertexClient(ctx, a.Config.ProjectID, a.Config.VertexAIRegion, a.Config.Model)
	if err != nil {
		return fmt.Errorf("failed to create vertex client: %w", err)
	}
	retry := extract.DefaultRetryPolicy()
	extractor := extract.NewVertexExtractor(vertexClient, retry)

	a.vertex = vertexClient
	a.Ingestor = pipeline.NewIngestor(pipeline.IngestorConfig{
		Renderer:    render.NewFitzRenderer(),
		Extractor:   extractor,
		Metadata:    extractor,
		Saver:       a.Store,
		Concurrency: a.Config.Concurrency,
	})
	a.Searcher = NewSearcher(a.Store, a.Store, vertexClient.SearchModel, retry)
	slog.Info("Vertex AI models enabled.", "model", a.Config.Model, "region", a.Config.VertexAIRegion)
	return nil
}

// Router builds the HTTP API over the local store. Search and ingestion
// routes are only live when models are enabled.
func (a *LocalApp) Router(manager *IngestionManager) http.Handler {
	deps := APIDeps{Docs: a.Store, History: a.Store}
	if a.Searcher != nil {
		deps.Search = a.Searcher
	}
	if manager != nil {
		deps.Ingestions = manager
	}
	return NewRouter(deps)
}

// Close releases the store and the Vertex client.
func (a *LocalApp) Close() error {
	var errs []error
	if a.vertex != nil {
		errs = append(errs, a.vertex.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
