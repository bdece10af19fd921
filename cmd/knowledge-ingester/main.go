package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/knowledgeflow/internal/services"
)

var (
	ingesterInstance *services.IngestFunction
	once             sync.Once
	initErr          error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("IngestKnowledge", ingestKnowledge)
}

// main is required by the Go Functions Framework.
func main() {}

// ingestKnowledge is triggered by object finalize events on the upload bucket.
func ingestKnowledge(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingesterInstance, initErr = services.NewIngester(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// A returned error marks the invocation failed and lets the trigger retry.
	return ingesterInstance.Process(ctx, gcsEvent)
}
