package docsystem

import (
	"fmt"
	"time"
)

// IndexedDocument is the representation mirrored into the search index.
// Create and Update accept the same shape.
type IndexedDocument struct {
	Author     string    `json:"author"`
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	VersionID  string    `json:"version_id"`
	VersionSeq int64     `json:"version_seq"`
	ForkedFrom *ForkRef  `json:"forked_from,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the document key of the indexed entry
func (d *IndexedDocument) Key() DocumentKey {
	return DocumentKey{Author: d.Author, ID: d.ID}
}

// NewIndexedDocument builds the index shape for a committed version.
// text is the document's full text (a book's concatenated scraps).
func NewIndexedDocument(key DocumentKey, v *Version, text string) *IndexedDocument {
	return &IndexedDocument{
		Author:     key.Author,
		ID:         key.ID,
		Kind:       v.Snapshot.Kind,
		Title:      v.Snapshot.Title,
		Content:    text,
		VersionID:  v.ID,
		VersionSeq: v.Seq,
		ForkedFrom: v.ForkedFrom,
		Deleted:    v.Snapshot.Deleted,
		UpdatedAt:  v.CreatedAt,
	}
}

// SearchField defines which indexed fields to search
type SearchField string

const (
	// SearchFieldTitle matches are weighted 2x higher than content matches
	SearchFieldTitle   SearchField = "title"
	SearchFieldContent SearchField = "content"
)

// Default search configuration values
const (
	DefaultSearchLimit    = 20
	DefaultSearchOffset   = 0
	DefaultSearchLanguage = "english"
	MaxSearchLimit        = 100
)

// SearchOptions configures how the index is queried
type SearchOptions struct {
	// Query is the search string (required)
	Query string

	// Author optionally limits results to one author's documents
	Author string

	// Fields specifies which fields to search
	// Default: [SearchFieldTitle, SearchFieldContent]
	Fields []SearchField

	Limit  int
	Offset int

	// Language is the postgres text search configuration (stemming, stop words)
	Language string
}

// ApplyDefaults fills in default values for unset fields
func (opts *SearchOptions) ApplyDefaults() {
	if len(opts.Fields) == 0 {
		opts.Fields = []SearchField{SearchFieldTitle, SearchFieldContent}
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}
	if opts.Offset < 0 {
		opts.Offset = DefaultSearchOffset
	}
	if opts.Language == "" {
		opts.Language = DefaultSearchLanguage
	}
}

// Validate checks that required fields are set and values are reasonable
func (opts *SearchOptions) Validate() error {
	if opts.Query == "" {
		return fmt.Errorf("search query cannot be empty")
	}
	if opts.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if opts.Limit > MaxSearchLimit {
		return fmt.Errorf("limit cannot exceed %d (requested: %d)", MaxSearchLimit, opts.Limit)
	}
	if opts.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	for _, field := range opts.Fields {
		switch field {
		case SearchFieldTitle, SearchFieldContent:
		default:
			return fmt.Errorf("invalid search field: %q (supported: title, content)", field)
		}
	}
	return nil
}

// Searches reports whether field is among the searched fields
func (opts *SearchOptions) Searches(field SearchField) bool {
	for _, f := range opts.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// SearchResult represents a single search hit with relevance scoring
type SearchResult struct {
	Document IndexedDocument `json:"document"`

	// Score represents relevance (higher = better match)
	Score float64 `json:"score"`
}

// SearchResults contains the full search response with pagination metadata
type SearchResults struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	HasMore    bool           `json:"has_more"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

// NewSearchResults creates a SearchResults with calculated HasMore flag
func NewSearchResults(results []SearchResult, totalCount int, opts *SearchOptions) *SearchResults {
	if results == nil {
		results = []SearchResult{}
	}
	return &SearchResults{
		Results:    results,
		TotalCount: totalCount,
		HasMore:    (opts.Offset + len(results)) < totalCount,
		Offset:     opts.Offset,
		Limit:      opts.Limit,
	}
}
