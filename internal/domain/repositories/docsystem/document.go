package docsystem

import (
	"context"

	"scrapbook/internal/domain/models/docsystem"
)

// VersionStore is the durable key-versioned storage engine.
// Implementations must give read-your-writes consistency per key.
type VersionStore interface {
	// Head returns the most recent committed version of key.
	// Returns domain.ErrNotFound if the key has never been written.
	Head(ctx context.Context, key docsystem.DocumentKey) (*docsystem.Version, error)

	// Version returns the version with the given sequence number
	Version(ctx context.Context, key docsystem.DocumentKey, seq int64) (*docsystem.Version, error)

	// Versions returns versions newest-first with seq < before (before <= 0 starts at head).
	// limit <= 0 returns every matching version.
	Versions(ctx context.Context, key docsystem.DocumentKey, before int64, limit int) ([]docsystem.Version, error)

	// WriteVersion appends v as the new head. It is a compare-and-swap: the write
	// succeeds only if the current head seq is v.Seq-1 (the key must not exist when
	// v.Seq == 1). A lost race returns *domain.ConflictError. Version row and head
	// pointer are written atomically.
	WriteVersion(ctx context.Context, key docsystem.DocumentKey, v *docsystem.Version) error

	// ListKeys enumerates the keys stored under an author. Unknown authors yield an empty slice.
	ListKeys(ctx context.Context, author string) ([]docsystem.DocumentKey, error)

	// ListHeads pages through every document ordered by (author, id), starting
	// after the given key. The zero key starts at the beginning.
	ListHeads(ctx context.Context, after docsystem.DocumentKey, limit int) ([]docsystem.HeadRef, error)
}
