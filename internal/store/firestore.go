package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// documentRecord is how a document is laid out in Firestore. Tables contain
// nested arrays, which Firestore cannot store, so the document itself travels
// as JSON in Data.
type documentRecord struct {
	FileName    string    `firestore:"fileName"`
	FileHash    string    `firestore:"fileHash"`
	Title       string    `firestore:"title"`
	Category    string    `firestore:"category"`
	ProcessedAt time.Time `firestore:"processedAt"`
	Data        string    `firestore:"data"`
}

type historyRecord struct {
	Query     string    `firestore:"query"`
	Results   string    `firestore:"results"`
	Timestamp time.Time `firestore:"timestamp"`
}

// FirestoreStore implements Store on two Firestore collections.
type FirestoreStore struct {
	client    *firestore.Client
	documents string
	history   string
	now       func() time.Time
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore uses the given collections for documents and history.
func NewFirestoreStore(client *firestore.Client, documentsCollection, historyCollection string) *FirestoreStore {
	return &FirestoreStore{
		client:    client,
		documents: documentsCollection,
		history:   historyCollection,
		now:       time.Now,
	}
}

func (s *FirestoreStore) List(ctx context.Context) ([]*models.Document, error) {
	iter := s.client.Collection(s.documents).OrderBy("processedAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	docs := []*models.Document{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate documents: %w", err)
		}
		doc, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.client.Collection(s.documents).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

func (s *FirestoreStore) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	docs, err := s.client.Collection(s.documents).Where("fileHash", "==", hash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return decodeSnapshot(docs[0])
}

func (s *FirestoreStore) Upsert(ctx context.Context, doc *models.Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	processedAt := doc.ProcessedAt
	if processedAt.IsZero() {
		processedAt = s.now().UTC()
	}
	rec := documentRecord{
		FileName:    doc.FileName,
		FileHash:    doc.FileHash,
		Title:       doc.Metadata.Title,
		Category:    doc.Metadata.Category,
		ProcessedAt: processedAt,
		Data:        data,
	}
	if _, err := s.client.Collection(s.documents).Doc(doc.ID).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.documents).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) AddSearch(ctx context.Context, query string, results []models.SearchResult) (*models.SearchHistoryItem, error) {
	results = nonNilResults(results)
	encoded, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search results: %w", err)
	}
	now := s.now().UTC()
	ref, _, err := s.client.Collection(s.history).Add(ctx, historyRecord{
		Query:     query,
		Results:   string(encoded),
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save search history: %w", err)
	}
	return &models.SearchHistoryItem{ID: ref.ID, Query: query, Results: results, Timestamp: now}, nil
}

func (s *FirestoreStore) ListSearches(ctx context.Context, limit int) ([]models.SearchHistoryItem, error) {
	iter := s.client.Collection(s.history).OrderBy("timestamp", firestore.Desc).Limit(historyLimit(limit)).Documents(ctx)
	defer iter.Stop()

	items := []models.SearchHistoryItem{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate search history: %w", err)
		}
		var rec historyRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse search history %s: %w", snap.Ref.ID, err)
		}
		item := models.SearchHistoryItem{ID: snap.Ref.ID, Query: rec.Query, Timestamp: rec.Timestamp}
		if err := json.Unmarshal([]byte(rec.Results), &item.Results); err != nil {
			return nil, fmt.Errorf("failed to decode search results %s: %w", snap.Ref.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ClearSearches deletes every history entry through a BulkWriter.
func (s *FirestoreStore) ClearSearches(ctx context.Context) error {
	refs, err := s.client.Collection(s.history).DocumentRefs(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("failed to list search history: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue delete of %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var errs []error
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear search history: %w", errors.Join(errs...))
	}
	return nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var rec documentRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", snap.Ref.ID, err)
	}
	doc, err := decodeDocument(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", snap.Ref.ID, err)
	}
	if doc.ID == "" {
		doc.ID = snap.Ref.ID
	}
	return doc, nil
}
