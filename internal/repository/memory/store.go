// Package memory provides in-process storage drivers for dev and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
)

// VersionStore keeps every document's version chain in memory
type VersionStore struct {
	mu     sync.RWMutex
	chains map[models.DocumentKey][]models.Version

	// failWrites makes WriteVersion return a storage error (tests)
	failWrites error
}

// NewVersionStore creates an empty store
func NewVersionStore() *VersionStore {
	return &VersionStore{chains: make(map[models.DocumentKey][]models.Version)}
}

var _ docsysRepo.VersionStore = (*VersionStore)(nil)

// FailWrites makes every subsequent write fail with err (nil restores normal behavior)
func (s *VersionStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// Head returns the latest version of key
func (s *VersionStore) Head(ctx context.Context, key models.DocumentKey) (*models.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[key]
	if len(chain) == 0 {
		return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
	}
	v := chain[len(chain)-1]
	return &v, nil
}

// Version returns version seq of key
func (s *VersionStore) Version(ctx context.Context, key models.DocumentKey, seq int64) (*models.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[key]
	if seq < 1 || seq > int64(len(chain)) {
		return nil, fmt.Errorf("version %d of %s: %w", seq, key, domain.ErrNotFound)
	}
	v := chain[seq-1]
	return &v, nil
}

// Versions returns versions newest-first below before
func (s *VersionStore) Versions(ctx context.Context, key models.DocumentKey, before int64, limit int) ([]models.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.chains[key]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", key, domain.ErrNotFound)
	}

	start := int64(len(chain))
	if before > 0 && before-1 < start {
		start = before - 1
	}
	out := []models.Version{}
	for seq := start; seq >= 1; seq-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, chain[seq-1])
	}
	return out, nil
}

// WriteVersion appends v if the head is still v.Seq-1
func (s *VersionStore) WriteVersion(ctx context.Context, key models.DocumentKey, v *models.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrites != nil {
		return &domain.StorageError{Op: "write version", Err: s.failWrites}
	}

	chain := s.chains[key]
	head := int64(len(chain))
	if v.Seq != head+1 {
		return domain.NewHeadConflict(key.String(), v.Seq-1, head)
	}

	stored := *v
	stored.Snapshot.Children = append([]models.DocumentKey(nil), v.Snapshot.Children...)
	s.chains[key] = append(chain, stored)
	return nil
}

// ListKeys returns the author's keys sorted by id
func (s *VersionStore) ListKeys(ctx context.Context, author string) ([]models.DocumentKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := []models.DocumentKey{}
	for k := range s.chains {
		if k.Author == author {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

// ListHeads returns up to limit heads ordered by (author, id) after the given key
func (s *VersionStore) ListHeads(ctx context.Context, after models.DocumentKey, limit int) ([]models.HeadRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	heads := []models.HeadRef{}
	for k, chain := range s.chains {
		if keyLess(after, k) {
			heads = append(heads, models.HeadRef{Key: k, Seq: int64(len(chain))})
		}
	}
	sort.Slice(heads, func(i, j int) bool { return keyLess(heads[i].Key, heads[j].Key) })
	if limit > 0 && len(heads) > limit {
		heads = heads[:limit]
	}
	return heads, nil
}

func keyLess(a, b models.DocumentKey) bool {
	if a.Author != b.Author {
		return a.Author < b.Author
	}
	return a.ID < b.ID
}
