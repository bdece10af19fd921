package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/knowledgeflow/internal/export"
	"github.com/Lllllllleong/knowledgeflow/internal/models"
	"github.com/Lllllllleong/knowledgeflow/internal/store"
)

// DefaultMaxUploadBytes bounds multipart PDF uploads.
const DefaultMaxUploadBytes = 50 << 20

// DocumentSearcher is implemented by *Searcher.
type DocumentSearcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// APIDeps wires the HTTP API. Search and Ingestions are optional; their
// routes answer 501 when unset.
type APIDeps struct {
	Docs           store.DocumentStore
	History        store.HistoryStore
	Search         DocumentSearcher
	Ingestions     IngestionService
	MaxUploadBytes int64
}

type api struct {
	APIDeps
}

// NewRouter returns the knowledge base HTTP API.
func NewRouter(deps APIDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	a := &api{APIDeps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.StatusResponse{Success: true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", a.listDocuments)
			r.Post("/", a.saveDocument)
			r.Get("/{id}", a.getDocument)
			r.Delete("/{id}", a.deleteDocument)
			r.Get("/{id}/export", a.exportDocument)
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/", a.listHistory)
			r.Post("/", a.addHistory)
			r.Delete("/", a.clearHistory)
		})
		r.Post("/search", a.search)
		r.Route("/ingestions", func(r chi.Router) {
			r.Post("/", a.startIngestion)
			r.Get("/{id}", a.getIngestion)
			r.Post("/{id}/cancel", a.cancelIngestion)
		})
	})
	return r
}

func (a *api) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.Docs.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *api) saveDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid document structure")
		return
	}
	if err := a.Docs.Upsert(r.Context(), &doc); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SaveDocumentResponse{Success: true, ID: doc.ID})
}

func (a *api) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *api) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.Docs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Success: true})
}

func (a *api) exportDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.Docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rendition, err := export.Render(doc, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", rendition.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+rendition.FileName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rendition.Content)
}

func (a *api) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	items, err := a.History.ListSearches(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *api) addHistory(w http.ResponseWriter, r *http.Request) {
	var req models.HistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "Query required")
		return
	}
	if _, err := a.History.AddSearch(r.Context(), req.Query, req.Results); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Success: true})
}

func (a *api) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.History.ClearSearches(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Success: true})
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	if a.Search == nil {
		writeError(w, http.StatusNotImplemented, "search is not configured")
		return
	}
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: could not parse JSON")
		return
	}
	results, err := a.Search.Search(r.Context(), req.Query)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *api) startIngestion(w http.ResponseWriter, r *http.Request) {
	if a.Ingestions == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "a PDF must be uploaded in the 'file' field")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	run, err := a.Ingestions.Start(r.Context(), header.Filename, data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (a *api) getIngestion(w http.ResponseWriter, r *http.Request) {
	if a.Ingestions == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}
	run, err := a.Ingestions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *api) cancelIngestion(w http.ResponseWriter, r *http.Request) {
	if a.Ingestions == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}
	run, err := a.Ingestions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// fail maps an error onto a status code. Internal errors are logged and
// hidden from the client.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, "Invalid document structure")
	case errors.Is(err, ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "Query required")
	case errors.Is(err, ErrUploadUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "requestId", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("Request served.",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"requestId", middleware.GetReqID(r.Context()))
	})
}
