package models

import "time"

// Ingestion run statuses.
const (
	RunStatusProcessing = "PROCESSING"
	RunStatusCompleted  = "COMPLETED"
	RunStatusCancelled  = "CANCELLED"
	RunStatusFailed     = "FAILED"
)

// IngestionRun tracks one ingestion of one PDF. In Firestore it lives in its
// own collection so progress can be polled while the run is in flight.
// CancelRequested is set through the API and watched by the running ingestion.
type IngestionRun struct {
	ID              string    `firestore:"-" json:"id"`
	DocumentID      string    `firestore:"documentId,omitempty" json:"documentId,omitempty"`
	FileName        string    `firestore:"fileName,omitempty" json:"fileName"`
	FileHash        string    `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	Status          string    `firestore:"status,omitempty" json:"status"`
	Completed       int       `firestore:"completed" json:"completed"`
	Total           int       `firestore:"total" json:"total"`
	FailedPages     []int     `firestore:"failedPages,omitempty" json:"failedPages,omitempty"`
	Error           string    `firestore:"errorDetails,omitempty" json:"error,omitempty"`
	CancelRequested bool      `firestore:"cancelRequested" json:"cancelRequested,omitempty"`
	StartedAt       time.Time `firestore:"startedAt,omitempty" json:"startedAt"`
	FinishedAt      time.Time `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// Percent is the share of settled pages, 0 when the total is not known yet.
func (r *IngestionRun) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	return r.Completed * 100 / r.Total
}

// Finished reports whether the run reached a terminal status.
func (r *IngestionRun) Finished() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusCancelled, RunStatusFailed:
		return true
	}
	return false
}
