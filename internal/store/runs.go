package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// RunTracker records the lifecycle of ingestion runs.
type RunTracker interface {
	Start(ctx context.Context, run *models.IngestionRun) error
	Progress(ctx context.Context, id string, completed, total int) error
	Finish(ctx context.Context, run *models.IngestionRun) error
	GetRun(ctx context.Context, id string) (*models.IngestionRun, error)
	// RequestCancel asks a running ingestion to stop after its current batch.
	RequestCancel(ctx context.Context, id string) error
	// WatchCancellation blocks until a cancel is requested for id, in which
	// case it calls onCancel, or until ctx ends.
	WatchCancellation(ctx context.Context, id string, onCancel func())
}

// FirestoreRunTracker keeps one Firestore document per run so progress can
// be polled while the ingestion is still going.
type FirestoreRunTracker struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

var _ RunTracker = (*FirestoreRunTracker)(nil)

func NewFirestoreRunTracker(client *firestore.Client, collection string) *FirestoreRunTracker {
	return &FirestoreRunTracker{client: client, collection: collection, now: time.Now}
}

// Start creates the run record. run.ID must be set.
func (t *FirestoreRunTracker) Start(ctx context.Context, run *models.IngestionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = t.now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusProcessing
	}
	if _, err := t.client.Collection(t.collection).Doc(run.ID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

func (t *FirestoreRunTracker) Progress(ctx context.Context, id string, completed, total int) error {
	updates := []firestore.Update{
		{Path: "completed", Value: completed},
		{Path: "total", Value: total},
	}
	if _, err := t.client.Collection(t.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update progress of run %s: %w", id, err)
	}
	return nil
}

// Finish writes the terminal state of run.
func (t *FirestoreRunTracker) Finish(ctx context.Context, run *models.IngestionRun) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = t.now().UTC()
	}
	updates := []firestore.Update{
		{Path: "status", Value: run.Status},
		{Path: "completed", Value: run.Completed},
		{Path: "total", Value: run.Total},
		{Path: "finishedAt", Value: run.FinishedAt},
	}
	if run.DocumentID != "" {
		updates = append(updates, firestore.Update{Path: "documentId", Value: run.DocumentID})
	}
	if len(run.FailedPages) > 0 {
		updates = append(updates, firestore.Update{Path: "failedPages", Value: run.FailedPages})
	}
	if run.Error != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: run.Error})
	}
	if _, err := t.client.Collection(t.collection).Doc(run.ID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	return nil
}

func (t *FirestoreRunTracker) GetRun(ctx context.Context, id string) (*models.IngestionRun, error) {
	snap, err := t.client.Collection(t.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	var run models.IngestionRun
	if err := snap.DataTo(&run); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", id, err)
	}
	run.ID = snap.Ref.ID
	return &run, nil
}

func (t *FirestoreRunTracker) RequestCancel(ctx context.Context, id string) error {
	ref := t.client.Collection(t.collection).Doc(id)
	if _, err := ref.Update(ctx, []firestore.Update{{Path: "cancelRequested", Value: true}}); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to request cancellation of run %s: %w", id, err)
	}
	return nil
}

func (t *FirestoreRunTracker) WatchCancellation(ctx context.Context, id string, onCancel func()) {
	iter := t.client.Collection(t.collection).Doc(id).Snapshots(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Stopped watching run for cancellation", "runId", id, "error", err)
			}
			return
		}
		if !snap.Exists() {
			continue
		}
		v, err := snap.DataAt("cancelRequested")
		if err != nil {
			continue
		}
		if requested, ok := v.(bool); ok && requested {
			onCancel()
			return
		}
	}
}
