package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"scrapbook/internal/domain"
	models "scrapbook/internal/domain/models/docsystem"
	docsysRepo "scrapbook/internal/domain/repositories/docsystem"
)

// SearchIndex is an in-memory search index with substring matching
type SearchIndex struct {
	mu      sync.RWMutex
	entries map[string]models.IndexedDocument

	failures int   // remaining calls to fail
	failErr  error // error returned while failures > 0
	calls    int
}

// NewSearchIndex creates an empty index
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{entries: make(map[string]models.IndexedDocument)}
}

var _ docsysRepo.SearchIndex = (*SearchIndex)(nil)

// FailNext makes the next n Create/Update calls return err (tests)
func (s *SearchIndex) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

// Calls returns the number of Create/Update calls received
func (s *SearchIndex) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Len returns the number of entries
func (s *SearchIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// injected reports an injected failure. Caller holds the write lock.
// Delete drops an entry, as if the index lost it (tests)
func (s *SearchIndex) Delete(indexKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, indexKey)
}

func (s *SearchIndex) injected() error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return s.failErr
	}
	return nil
}

// Create adds a new entry
func (s *SearchIndex) Create(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(); err != nil {
		return err
	}
	if _, ok := s.entries[indexKey]; ok {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("index entry %s already exists", indexKey),
			ResourceType: "index_entry",
			ResourceID:   indexKey,
		}
	}
	s.entries[indexKey] = *doc
	return nil
}

// Update replaces an existing entry unless it is newer than doc
func (s *SearchIndex) Update(ctx context.Context, indexKey string, doc *models.IndexedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(); err != nil {
		return err
	}
	existing, ok := s.entries[indexKey]
	if !ok {
		return fmt.Errorf("index entry %s: %w", indexKey, domain.ErrNotFound)
	}
	if existing.VersionSeq > doc.VersionSeq {
		return nil
	}
	s.entries[indexKey] = *doc
	return nil
}

// Get returns the entry under indexKey
func (s *SearchIndex) Get(ctx context.Context, indexKey string) (*models.IndexedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.entries[indexKey]
	if !ok {
		return nil, fmt.Errorf("index entry %s: %w", indexKey, domain.ErrNotFound)
	}
	return &doc, nil
}

// Search returns live entries containing the query (case-insensitive).
// Title hits score 2, content hits 1.
func (s *SearchIndex) Search(ctx context.Context, opts *models.SearchOptions) (*models.SearchResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(opts.Query)
	var matches []models.SearchResult
	for _, doc := range s.entries {
		if doc.Deleted || (opts.Author != "" && doc.Author != opts.Author) {
			continue
		}
		var score float64
		if opts.Searches(models.SearchFieldTitle) && strings.Contains(strings.ToLower(doc.Title), q) {
			score += 2
		}
		if opts.Searches(models.SearchFieldContent) && strings.Contains(strings.ToLower(doc.Content), q) {
			score++
		}
		if score > 0 {
			matches = append(matches, models.SearchResult{Document: doc, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Document.Key().String() < matches[j].Document.Key().String()
	})

	total := len(matches)
	start := min(opts.Offset, total)
	end := min(start+opts.Limit, total)
	return models.NewSearchResults(matches[start:end], total, opts), nil
}
