package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocument(id string, processedAt time.Time) *models.Document {
	return &models.Document{
		ID:       id,
		FileName: id + ".pdf",
		FileSize: 1024,
		FileHash: "hash-" + id,
		Metadata: models.DocumentMetadata{Title: "Title " + id, Category: "Policy", KeyPoints: []string{"one"}},
		Sections: []models.Section{{ID: "s1", Title: "Scope", Content: "All staff", PageNumber: 1}},
		Tables: []models.Table{{
			ID: "t1", Headers: []string{"Level", "Limit"}, Rows: [][]string{{"L1", "100"}}, PageNumber: 2,
		}},
		Images:      []models.Image{},
		TOC:         []string{"Scope"},
		ProcessedAt: processedAt,
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	doc := sampleDocument("doc-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	require.NoError(t, s.Upsert(ctx, doc))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestSQLiteStore_UpsertReplacesWholeRecord(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	doc := sampleDocument("doc-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.Upsert(ctx, doc))

	doc.Sections = []models.Section{}
	doc.Metadata.Title = "Revised"
	require.NoError(t, s.Upsert(ctx, doc))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Revised", got.Metadata.Title)
	assert.Empty(t, got.Sections)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_UpsertRejectsInvalidDocuments(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Upsert(ctx, &models.Document{FileName: "a.pdf"}), ErrInvalidDocument)
	assert.ErrorIs(t, s.Upsert(ctx, &models.Document{ID: "x"}), ErrInvalidDocument)
	assert.ErrorIs(t, s.Upsert(ctx, nil), ErrInvalidDocument)
}

func TestSQLiteStore_ListNewestFirst(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, sampleDocument("old", base)))
	require.NoError(t, s.Upsert(ctx, sampleDocument("new", base.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, sampleDocument("mid", base.Add(time.Minute))))

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "new", docs[0].ID)
	assert.Equal(t, "mid", docs[1].ID)
	assert.Equal(t, "old", docs[2].ID)
}

func TestSQLiteStore_ListEmpty(t *testing.T) {
	s := setupTestDB(t)

	docs, err := s.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := setupTestDB(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DeleteIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleDocument("doc-1", time.Now())))

	require.NoError(t, s.Delete(ctx, "doc-1"))
	require.NoError(t, s.Delete(ctx, "doc-1"))

	_, err := s.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_FindByHash(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, sampleDocument("doc-1", time.Now())))

	got, err := s.FindByHash(ctx, "hash-doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)

	_, err = s.FindByHash(ctx, "hash-other")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindByHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SearchHistory(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := s.AddSearch(ctx, "travel limits", []models.SearchResult{{DocID: "doc-1", Title: "Limits", Score: 0.9}})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	_, err = s.AddSearch(ctx, "org chart", nil)
	require.NoError(t, err)

	items, err := s.ListSearches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "org chart", items[0].Query)
	assert.NotNil(t, items[0].Results)
	assert.Empty(t, items[0].Results)
	assert.Equal(t, "travel limits", items[1].Query)
	assert.Equal(t, "doc-1", items[1].Results[0].DocID)
	assert.True(t, items[1].Timestamp.Equal(first.Timestamp))

	require.NoError(t, s.ClearSearches(ctx))
	items, err = s.ListSearches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLiteStore_ListSearchesHonoursLimit(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		_, err := s.AddSearch(ctx, "q", nil)
		require.NoError(t, err)
	}

	items, err := s.ListSearches(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, DefaultHistoryLimit)

	items, err = s.ListSearches(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
