package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Lllllllleong/knowledgeflow/internal/models"
)

// DriverName is the database/sql driver registered by go-sqlite3.
const DriverName = "sqlite3"

// Fixed-width UTC timestamps sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    file_hash TEXT,
    title TEXT,
    category TEXT,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_file_hash ON documents(file_hash);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

CREATE TABLE IF NOT EXISTS search_history (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    results TEXT NOT NULL,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_history_timestamp ON search_history(timestamp);
`

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Document operations

func (s *SQLiteStore) List(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.getOne(ctx, `SELECT data FROM documents WHERE id = ?`, id)
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*models.Document, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, `SELECT data FROM documents WHERE file_hash = ? ORDER BY created_at DESC LIMIT 1`, hash)
}

func (s *SQLiteStore) getOne(ctx context.Context, query string, arg any) (*models.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return decodeDocument(data)
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc *models.Document) error {
	if err := validate(doc); err != nil {
		return err
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	createdAt := doc.ProcessedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, file_name, file_hash, title, category, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.FileName, doc.FileHash, doc.Metadata.Title, doc.Metadata.Category, data,
		createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Search history operations

func (s *SQLiteStore) AddSearch(ctx context.Context, query string, results []models.SearchResult) (*models.SearchHistoryItem, error) {
	item := &models.SearchHistoryItem{
		ID:        uuid.NewString(),
		Query:     query,
		Results:   nonNilResults(results),
		Timestamp: s.now().UTC(),
	}
	encoded, err := json.Marshal(item.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search results: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_history (id, query, results, timestamp) VALUES (?, ?, ?, ?)`,
		item.ID, item.Query, string(encoded), item.Timestamp.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to save search history: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) ListSearches(ctx context.Context, limit int) ([]models.SearchHistoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, results, timestamp FROM search_history ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	items := []models.SearchHistoryItem{}
	for rows.Next() {
		var item models.SearchHistoryItem
		var results, ts string
		if err := rows.Scan(&item.ID, &item.Query, &results, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan search history: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &item.Results); err != nil {
			return nil, fmt.Errorf("failed to decode search results: %w", err)
		}
		if item.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse search timestamp: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ClearSearches(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_history`); err != nil {
		return fmt.Errorf("failed to clear search history: %w", err)
	}
	return nil
}
