package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/knowledgeflow/internal/services"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleKnowledgeAPI", handleKnowledgeAPI)
}

// main is required by the Go Functions Framework.
func main() {}

func handleKnowledgeAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		handler, initErr = services.NewCloudAPI(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Knowledge API initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
