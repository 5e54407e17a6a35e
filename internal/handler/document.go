package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	docsystem "scrapbook/internal/domain/models/docsystem"
	docsysSvc "scrapbook/internal/domain/services/docsystem"
	"scrapbook/internal/httputil"
)

// DocumentHandler handles document HTTP requests.
// Handlers only communicate with the document service, never repositories.
type DocumentHandler struct {
	docService docsysSvc.DocumentService
	logger     *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docService docsysSvc.DocumentService, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
		logger:     logger,
	}
}

// Register mounts the document routes on mux
func (h *DocumentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	// Literal segments take precedence over {author}/{id}
	mux.HandleFunc("POST /documents/new", h.CreateDocument)
	mux.HandleFunc("GET /search", h.Search)

	mux.HandleFunc("GET /documents/{author}", h.ListDocuments)
	mux.HandleFunc("GET /documents/{author}/{id}", h.GetDocument)
	mux.HandleFunc("POST /documents/{author}/{id}", h.UpdateDocument)
	mux.HandleFunc("DELETE /documents/{author}/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /documents/{author}/{id}/fork", h.ForkDocument)
	mux.HandleFunc("GET /documents/{author}/{id}/history", h.History)
	mux.HandleFunc("GET /documents/{author}/{id}/versions/{version}", h.GetVersion)
	mux.HandleFunc("GET /documents/{author}/{id}/diff", h.Diff)
	mux.HandleFunc("GET /documents/{author}/{id}/pdf", h.Render)
}

// CreateDocument creates a new scrap or book owned by the caller
// POST /documents/new
func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req docsysSvc.CreateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}

	doc, err := h.docService.CreateDocument(r.Context(), httputil.GetCredentials(r), &req)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/documents/%s/%s", doc.Author, doc.ID))
	httputil.RespondJSON(w, http.StatusCreated, doc)
}

// ListDocuments lists an author's documents
// GET /documents/{author}
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	author, ok := PathParam(w, r, "author", "Author")
	if !ok {
		return
	}

	docs, err := h.docService.ListByAuthor(r.Context(), author)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, docs)
}

// GetDocument retrieves a document's current state and text
// GET /documents/{author}/{id}
// ETag is the content hash of the head version
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	doc, err := h.docService.GetDocument(r.Context(), author, id)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	etag := strconv.Quote(doc.ContentHash)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, doc)
}

// UpdateDocument commits a new version
// POST /documents/{author}/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	var req docsysSvc.UpdateDocumentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}

	doc, err := h.docService.UpdateDocument(r.Context(), httputil.GetCredentials(r), author, id, &req)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.Header().Set("ETag", strconv.Quote(doc.ContentHash))
	httputil.RespondJSON(w, http.StatusOK, doc)
}

// DeleteDocument tombstones a document
// DELETE /documents/{author}/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	if err := h.docService.DeleteDocument(r.Context(), httputil.GetCredentials(r), author, id); err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ForkDocument forks a document into the caller's namespace
// POST /documents/{author}/{id}/fork
func (h *DocumentHandler) ForkDocument(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	fork, err := h.docService.ForkDocument(r.Context(), httputil.GetCredentials(r), author, id)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/documents/%s/%s", fork.Author, fork.ID))
	httputil.RespondJSON(w, http.StatusCreated, fork)
}

// History returns a document's versions newest-first
// GET /documents/{author}/{id}/history
// Without paging parameters the full history is returned as [[message, versionId], ...].
// ?limit=&before= returns {entries, next_before}.
func (h *DocumentHandler) History(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if !query.Has("limit") && !query.Has("before") {
		entries, err := h.docService.History(r.Context(), author, id)
		if err != nil {
			handleError(w, r, h.logger, err)
			return
		}
		pairs := make([][2]string, len(entries))
		for i, e := range entries {
			pairs[i] = [2]string{e.Message, e.VersionID}
		}
		httputil.RespondJSON(w, http.StatusOK, pairs)
		return
	}

	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	before, err := httputil.QueryInt(r, "before", 0)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.docService.HistoryPage(r.Context(), author, id, int64(before), limit)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, page)
}

// GetVersion returns one version snapshot by id or sequence number
// GET /documents/{author}/{id}/versions/{version}
func (h *DocumentHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}
	ref, ok := PathParam(w, r, "version", "Version")
	if !ok {
		return
	}

	v, err := h.docService.GetVersion(r.Context(), author, id, ref)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, v)
}

// Diff compares two versions
// GET /documents/{author}/{id}/diff?from=&to=
func (h *DocumentHandler) Diff(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	diff, err := h.docService.Diff(r.Context(), author, id, query.Get("from"), query.Get("to"))
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, diff)
}

// Render returns the rendered document artifact
// GET /documents/{author}/{id}/pdf
func (h *DocumentHandler) Render(w http.ResponseWriter, r *http.Request) {
	author, id, ok := documentKey(w, r)
	if !ok {
		return
	}

	out, err := h.docService.Render(r.Context(), author, id)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", out.Filename))
	httputil.RespondBytes(w, http.StatusOK, out.ContentType, out.Body)
}

// Search queries the search index
// GET /search?q=&author=&fields=&limit=&offset=
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := httputil.QueryInt(r, "limit", 0)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := &docsystem.SearchOptions{
		Query:    strings.TrimSpace(query.Get("q")),
		Author:   query.Get("author"),
		Limit:    limit,
		Offset:   offset,
		Language: query.Get("language"),
	}
	if fields := query.Get("fields"); fields != "" {
		for _, f := range strings.Split(fields, ",") {
			opts.Fields = append(opts.Fields, docsystem.SearchField(strings.TrimSpace(f)))
		}
	}

	results, err := h.docService.Search(r.Context(), opts)
	if err != nil {
		handleError(w, r, h.logger, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, results)
}

// HealthCheck is a simple health check endpoint
// GET /health
func (h *DocumentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	})
}

// badBody responds 413 for oversized bodies and 400 otherwise
func (h *DocumentHandler) badBody(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		handleError(w, r, h.logger, err)
		return
	}
	httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
}
