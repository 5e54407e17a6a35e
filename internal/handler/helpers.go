package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"scrapbook/internal/domain"
	"scrapbook/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		conflictErr *domain.ConflictError
		missingErr  *domain.DependencyMissingError
		tooLarge    *http.MaxBytesError
	)

	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &conflictErr):
		httputil.RespondErrorWithExtras(w, http.StatusConflict, conflictErr.Error(), map[string]interface{}{
			"expected_head": conflictErr.ExpectedHead,
			"actual_head":   conflictErr.ActualHead,
		})
	case errors.As(err, &missingErr):
		httputil.RespondErrorWithExtras(w, http.StatusFailedDependency, missingErr.Error(), map[string]interface{}{
			"missing": missingErr.Child,
		})
	case errors.As(err, &tooLarge):
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// PathParam returns a non-empty path value, responding 400 when it is missing
func PathParam(w http.ResponseWriter, r *http.Request, name, label string) (string, bool) {
	value := r.PathValue(name)
	if value == "" {
		httputil.RespondError(w, http.StatusBadRequest, label+" is required")
		return "", false
	}
	return value, true
}

// documentKey reads the {author} and {id} path values
func documentKey(w http.ResponseWriter, r *http.Request) (author, id string, ok bool) {
	if author, ok = PathParam(w, r, "author", "Author"); !ok {
		return "", "", false
	}
	if id, ok = PathParam(w, r, "id", "Document ID"); !ok {
		return "", "", false
	}
	return author, id, true
}
