package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/pipeline"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIngestionManager_RunCompletes(t *testing.T) {
	ing := newBlockingIngester()
	m := NewIngestionManager(ing, nil)
	ctx := waitCtx(t)

	run, err := m.Start(ctx, "policy.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusProcessing, run.Status)
	assert.NotEmpty(t, run.DocumentID)

	assert.Equal(t, run.DocumentID, <-ing.started)
	got, err := m.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Total)

	close(ing.release)
	final, err := m.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, 4, final.Completed)
	assert.Equal(t, 100, final.Percent())
	assert.False(t, final.FinishedAt.IsZero())
}

func TestIngestionManager_CancelStopsRun(t *testing.T) {
	ing := newBlockingIngester()
	m := NewIngestionManager(ing, nil)
	ctx := waitCtx(t)

	run, err := m.Start(ctx, "policy.pdf", nil)
	require.NoError(t, err)
	<-ing.started

	snap, err := m.Cancel(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, snap.CancelRequested)

	final, err := m.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	assert.Equal(t, 2, final.Completed)
}

func TestIngestionManager_NewerRunSupersedesSameFile(t *testing.T) {
	ing := newBlockingIngester()
	m := NewIngestionManager(ing, nil)
	ctx := waitCtx(t)

	first, err := m.Start(ctx, "policy.pdf", nil)
	require.NoError(t, err)
	<-ing.started
	other, err := m.Start(ctx, "other.pdf", nil)
	require.NoError(t, err)
	<-ing.started

	second, err := m.Start(ctx, "policy.pdf", nil)
	require.NoError(t, err)
	<-ing.started

	final, err := m.Wait(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, final.Status)

	close(ing.release)
	for _, id := range []string{second.ID, other.ID} {
		r, err := m.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusCompleted, r.Status)
	}
}

func TestIngestionManager_FailureCarriesUserMessage(t *testing.T) {
	ing := newBlockingIngester()
	ing.err = &pipeline.IngestError{Stage: pipeline.StageMetadata, Err: errors.New("quota")}
	close(ing.release)
	m := NewIngestionManager(ing, nil)
	ctx := waitCtx(t)

	run, err := m.Start(ctx, "policy.pdf", nil)
	require.NoError(t, err)

	final, err := m.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.Equal(t, ing.err.(*pipeline.IngestError).UserMessage(), final.Error)
}

func TestIngestionManager_UnknownRun(t *testing.T) {
	m := NewIngestionManager(newBlockingIngester(), nil)
	ctx := waitCtx(t)

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngestionManager_ShutdownCancelsRunsAndRejectsNewOnes(t *testing.T) {
	ing := newBlockingIngester()
	m := NewIngestionManager(ing, nil)
	ctx := waitCtx(t)

	run, err := m.Start(ctx, "policy.pdf", nil)
	require.NoError(t, err)
	<-ing.started

	require.NoError(t, m.Shutdown(ctx))

	final, err := m.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, final.Status)

	_, err = m.Start(ctx, "late.pdf", nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestApplyOutcome(t *testing.T) {
	tests := []struct {
		name   string
		res    *pipeline.Result
		err    error
		status string
	}{
		{"completed", &pipeline.Result{Summary: pipeline.Summary{Total: 3, Completed: 3}}, nil, models.RunStatusCompleted},
		{"cancelled", &pipeline.Result{Cancelled: true, Summary: pipeline.Summary{Total: 3, Completed: 1}}, nil, models.RunStatusCancelled},
		{"persist failure", &pipeline.Result{PersistErr: errors.New("locked")}, nil, models.RunStatusFailed},
		{"document failure", nil, errors.New("boom"), models.RunStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var run models.IngestionRun
			applyOutcome(&run, tt.res, tt.err)
			assert.Equal(t, tt.status, run.Status)
			assert.Equal(t, tt.status == models.RunStatusFailed, run.Error != "")
		})
	}
}

func TestRunStatusService(t *testing.T) {
	tracker := newFakeRunTracker()
	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx, &models.IngestionRun{ID: "run-1", Status: models.RunStatusProcessing}))
	require.NoError(t, tracker.Start(ctx, &models.IngestionRun{ID: "run-2", Status: models.RunStatusCompleted}))
	svc := NewRunStatusService(tracker)

	_, err := svc.Start(ctx, "a.pdf", nil)
	assert.ErrorIs(t, err, ErrUploadUnsupported)

	run, err := svc.Cancel(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.CancelRequested)
	stored, err := svc.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)

	done, err := svc.Cancel(ctx, "run-2")
	require.NoError(t, err)
	assert.False(t, done.CancelRequested)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
