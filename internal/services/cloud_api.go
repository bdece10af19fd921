package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/knowledgeflow/internal/extract"
	"github.com/Lllllllleong/knowledgeflow/internal/gcp"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// APIConfig holds configuration for the HTTP API function.
type APIConfig struct {
	ProjectID           string
	FirestoreDatabase   string
	VertexAIRegion      string
	Model               string
	DocumentsCollection string
	HistoryCollection   string
	RunsCollection      string
	MaxUploadBytes      int
}

func loadAPIConfig() (*APIConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	return &APIConfig{
		ProjectID:           projectID,
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		Model:               gcp.GetEnv("GEMINI_MODEL", gcp.DefaultModel),
		DocumentsCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "documents"),
		HistoryCollection:   gcp.GetEnv("HISTORY_COLLECTION", "search_history"),
		RunsCollection:      gcp.GetEnv("RUNS_COLLECTION", "ingestions"),
		MaxUploadBytes:      gcp.GetEnvInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
	}, nil
}

// NewCloudAPI builds the HTTP API backed by Firestore. Ingestion runs are
// read and cancelled here; uploads arrive through the bucket trigger.
func NewCloudAPI(ctx context.Context) (http.Handler, error) {
	config, err := loadAPIConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	docs := store.NewFirestoreStore(firestoreClient, config.DocumentsCollection, config.HistoryCollection)
	runs := store.NewFirestoreRunTracker(firestoreClient, config.RunsCollection)

	slog.Info("Knowledge API initialized.",
		"documentsCollection", config.DocumentsCollection,
		"runsCollection", config.RunsCollection,
		"model", config.Model)
	return NewRouter(APIDeps{
		Docs:           docs,
		History:        docs,
		Search:         NewSearcher(docs, docs, vertexClient.SearchModel, extract.DefaultRetryPolicy()),
		Ingestions:     NewRunStatusService(runs),
		MaxUploadBytes: int64(config.MaxUploadBytes),
	}), nil
}
