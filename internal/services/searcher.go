package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/knowledgeflow/internal/extract"
	"github.com/Lllllllleong/knowledgeflow/internal/gcp"
	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// ErrEmptyQuery is returned by Search for blank queries.
var ErrEmptyQuery = errors.New("search query is empty")

// sectionExcerpt bounds how much of each section is sent as search context.
const sectionExcerpt = 300

// Searcher answers natural-language queries over every stored document.
type Searcher struct {
	docs    store.DocumentStore
	history store.HistoryStore
	model   extract.Generator
	retry   extract.RetryPolicy
	logger  *slog.Logger
}

// NewSearcher creates a Searcher. history may be nil, in which case queries
// are not recorded.
func NewSearcher(docs store.DocumentStore, history store.HistoryStore, model extract.Generator, retry extract.RetryPolicy) *Searcher {
	return &Searcher{docs: docs, history: history, model: model, retry: retry, logger: slog.Default()}
}

type searchContext struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Metadata models.DocumentMetadata `json:"metadata"`
	Sections []searchSection         `json:"sections"`
	Tables   []searchItem            `json:"tables"`
	Images   []searchItem            `json:"images"`
}

type searchSection struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	PageNumber int    `json:"pageNumber"`
}

type searchItem struct {
	Text       string `json:"text"`
	PageNumber int    `json:"pageNumber"`
}

// Search asks the search model for the most relevant items and returns them
// best first. Results that point at unknown documents are dropped.
func (s *Searcher) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	logCtx := s.logger.With("query", query)

	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}

	results := []models.SearchResult{}
	if len(docs) > 0 {
		corpus, err := buildSearchContext(docs)
		if err != nil {
			return nil, err
		}
		var raw []models.SearchResult
		err = s.retry.Do(ctx, "semantic search", func(ctx context.Context) error {
			resp, err := s.model.GenerateContent(ctx, genai.Text(gcp.SearchUserPrompt(query, corpus)))
			if err != nil {
				return fmt.Errorf("failed to generate content from gemini: %w", err)
			}
			return extract.DecodeJSON(resp, &raw)
		})
		if err != nil {
			logCtx.Error("Semantic search failed", "error", err)
			return nil, fmt.Errorf("semantic search: %w", err)
		}
		results = rankResults(raw, docs)
	}
	logCtx.Info("Search complete.", "documents", len(docs), "results", len(results))

	if s.history != nil {
		if _, err := s.history.AddSearch(ctx, query, results); err != nil {
			logCtx.Warn("Failed to record search history", "error", err)
		}
	}
	return results, nil
}

func buildSearchContext(docs []*models.Document) (string, error) {
	corpus := make([]searchContext, 0, len(docs))
	for _, d := range docs {
		c := searchContext{
			ID:       d.ID,
			Name:     d.FileName,
			Metadata: d.Metadata,
			Sections: make([]searchSection, 0, len(d.Sections)),
			Tables:   make([]searchItem, 0, len(d.Tables)),
			Images:   make([]searchItem, 0, len(d.Images)),
		}
		for _, sec := range d.Sections {
			c.Sections = append(c.Sections, searchSection{Title: sec.Title, Content: truncate(sec.Content, sectionExcerpt), PageNumber: sec.PageNumber})
		}
		for _, t := range d.Tables {
			c.Tables = append(c.Tables, searchItem{Text: t.Summary, PageNumber: t.PageNumber})
		}
		for _, img := range d.Images {
			c.Images = append(c.Images, searchItem{Text: img.Description, PageNumber: img.PageNumber})
		}
		corpus = append(corpus, c)
	}
	data, err := json.Marshal(corpus)
	if err != nil {
		return "", fmt.Errorf("failed to encode search context: %w", err)
	}
	return string(data), nil
}

func rankResults(raw []models.SearchResult, docs []*models.Document) []models.SearchResult {
	names := make(map[string]string, len(docs))
	for _, d := range docs {
		names[d.ID] = d.FileName
	}
	out := make([]models.SearchResult, 0, len(raw))
	for _, r := range raw {
		name, ok := names[r.DocID]
		if !ok {
			continue
		}
		r.FileName = name
		r.Score = min(max(r.Score, 0), 1)
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b models.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
