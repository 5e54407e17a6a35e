package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("could not verify identity")
	ErrNotOwner          = errors.New("not the document owner")
	ErrDependencyMissing = errors.New("dependency missing")
	ErrIndex             = errors.New("search index sync failed")
	ErrStorage           = errors.New("storage failure")
)

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ForbiddenReason distinguishes the two ways a mutation can be refused.
type ForbiddenReason string

const (
	ReasonUnauthenticated ForbiddenReason = "unauthenticated"
	ReasonNotOwner        ForbiddenReason = "not_owner"
)

// ForbiddenError is returned by the access guard. Both reasons surface as 403
// to callers; errors.Is distinguishes them via ErrUnauthenticated / ErrNotOwner.
type ForbiddenError struct {
	Reason   ForbiddenReason
	Identity string // empty when unauthenticated
	Message  string
}

func (e *ForbiddenError) Error() string   { return e.Message }
func (e *ForbiddenError) StatusCode() int { return http.StatusForbidden }

func (e *ForbiddenError) Is(target error) bool {
	switch target {
	case ErrForbidden:
		return true
	case ErrUnauthenticated:
		return e.Reason == ReasonUnauthenticated
	case ErrNotOwner:
		return e.Reason == ReasonNotOwner
	}
	return false
}

// ConflictError represents a lost race on a document's version chain (or a
// duplicate key on create).
type ConflictError struct {
	Message      string // Human-readable error message
	ResourceType string // Type of resource (document, index entry)
	ResourceID   string // Key of the conflicting resource
	ExpectedHead int64  // Head sequence the caller observed
	ActualHead   int64  // Head sequence found in storage
}

func (e *ConflictError) Error() string   { return e.Message }
func (e *ConflictError) StatusCode() int { return http.StatusConflict }

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewHeadConflict builds the conflict returned when a commit's observed head is stale.
func NewHeadConflict(key string, expected, actual int64) *ConflictError {
	return &ConflictError{
		Message:      fmt.Sprintf("document %s changed since it was read (observed version %d, current %d)", key, expected, actual),
		ResourceType: "document",
		ResourceID:   key,
		ExpectedHead: expected,
		ActualHead:   actual,
	}
}

// DependencyMissingError is returned when a book references a scrap that
// cannot be loaded.
type DependencyMissingError struct {
	Parent string
	Child  string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("book %s references missing scrap %s", e.Parent, e.Child)
}
func (e *DependencyMissingError) StatusCode() int { return http.StatusFailedDependency }
func (e *DependencyMissingError) Is(target error) bool {
	return target == ErrDependencyMissing
}

// IndexError reports a search sync that failed after all retries. It is
// logged and alerted, never returned to the request that committed.
type IndexError struct {
	Key      string
	Seq      int64
	Attempts int
	Err      error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s@%d failed after %d attempts: %v", e.Key, e.Seq, e.Attempts, e.Err)
}
func (e *IndexError) Unwrap() error { return e.Err }
func (e *IndexError) Is(target error) bool {
	return target == ErrIndex
}

// StorageError wraps a durable-write or read failure of the storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string   { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error   { return e.Err }
func (e *StorageError) StatusCode() int { return http.StatusInternalServerError }
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
