package handler

import (
	"context"
	"log/slog"
	"net/http"

	"scrapbook/internal/httputil"
	serviceDocsys "scrapbook/internal/service/docsystem"
)

// IndexAdmin exposes the search index synchronizer's failure ledger
type IndexAdmin interface {
	Failures() []serviceDocsys.SyncFailure
	Pending() int
	Resync(ctx context.Context) error
}

// IndexHandler serves operational endpoints for index synchronization
type IndexHandler struct {
	sync   IndexAdmin
	logger *slog.Logger
}

// NewIndexHandler creates a new index handler
func NewIndexHandler(sync IndexAdmin, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{sync: sync, logger: logger}
}

// Register mounts the index routes on mux
func (h *IndexHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/index/failures", h.Failures)
	mux.HandleFunc("POST /admin/index/resync", h.Resync)
}

// Failures lists versions the search index has not absorbed
// GET /admin/index/failures
func (h *IndexHandler) Failures(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"pending":  h.sync.Pending(),
		"failures": h.sync.Failures(),
	})
}

// Resync re-drives every outstanding failure from its document's current head
// POST /admin/index/resync
func (h *IndexHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Resync(r.Context()); err != nil {
		h.logger.Warn("resync incomplete", "error", err)
		httputil.RespondErrorWithExtras(w, http.StatusBadGateway, "resync incomplete", map[string]interface{}{
			"failures": h.sync.Failures(),
		})
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"failures": h.sync.Failures(),
	})
}
