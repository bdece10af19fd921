package models

import "time"

// These structs define the JSON payloads exchanged with the HTTP API and the
// completion workflow.

// SearchRequest is the input for POST /api/search.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResult is a single hit returned by semantic search.
type SearchResult struct {
	DocID      string  `json:"docId"`
	FileName   string  `json:"fileName"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	PageNumber int     `json:"pageNumber"`
}

// SearchHistoryItem is a stored past query with the results it produced.
type SearchHistoryItem struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Timestamp time.Time      `json:"timestamp"`
}

// HistoryRequest is the input for POST /api/history.
type HistoryRequest struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SaveDocumentResponse is the output of POST /api/documents.
type SaveDocumentResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// StatusResponse is a generic acknowledgement.
type StatusResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse carries a user-facing error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CompletionPayload is the argument handed to the completion workflow.
type CompletionPayload struct {
	DocumentID  string `json:"documentId"`
	RunID       string `json:"runId"`
	PageCount   int    `json:"pageCount"`
	FailedPages []int  `json:"failedPages"`
}
