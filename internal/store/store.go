// Package store persists extracted documents, search history and ingestion
// runs. Documents are stored as one opaque JSON record per id plus a handful
// of top-level fields used for queries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocument is returned by Upsert for documents without an id or file name.
	ErrInvalidDocument = errors.New("invalid document structure")
)

// DefaultHistoryLimit is how many past searches ListSearches returns when
// the caller does not ask for a specific number.
const DefaultHistoryLimit = 20

// DocumentStore keeps whole documents keyed by id. Upsert replaces the
// stored record entirely; the last write wins.
type DocumentStore interface {
	List(ctx context.Context) ([]*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Upsert(ctx context.Context, doc *models.Document) error
	// Delete removes the document; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	FindByHash(ctx context.Context, hash string) (*models.Document, error)
}

// HistoryStore keeps past search queries, newest first.
type HistoryStore interface {
	AddSearch(ctx context.Context, query string, results []models.SearchResult) (*models.SearchHistoryItem, error)
	ListSearches(ctx context.Context, limit int) ([]models.SearchHistoryItem, error)
	ClearSearches(ctx context.Context) error
}

// Store is a backend that serves both documents and search history.
type Store interface {
	DocumentStore
	HistoryStore
}

func validate(doc *models.Document) error {
	if doc == nil || doc.ID == "" || doc.FileName == "" {
		return ErrInvalidDocument
	}
	return nil
}

func encodeDocument(doc *models.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	return string(data), nil
}

func decodeDocument(data string) (*models.Document, error) {
	var doc models.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return &doc, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func nonNilResults(results []models.SearchResult) []models.SearchResult {
	if results == nil {
		return []models.SearchResult{}
	}
	return results
}
