package docsystem

import (
	"context"

	"scrapbook/internal/domain/models/docsystem"
)

// SearchIndex is the secondary search index client. Create and Update take
// the same document shape.
type SearchIndex interface {
	// Create adds a new entry. Returns *domain.ConflictError if indexKey exists.
	Create(ctx context.Context, indexKey string, doc *docsystem.IndexedDocument) error

	// Update replaces an existing entry. Returns domain.ErrNotFound if indexKey is absent.
	// An update carrying an older VersionSeq than the stored entry is a no-op.
	Update(ctx context.Context, indexKey string, doc *docsystem.IndexedDocument) error

	// Get returns the entry stored under indexKey
	Get(ctx context.Context, indexKey string) (*docsystem.IndexedDocument, error)

	// Search queries live (non-deleted) entries
	Search(ctx context.Context, opts *docsystem.SearchOptions) (*docsystem.SearchResults, error)
}
