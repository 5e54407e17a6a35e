package docsystem

import (
	"context"

	"scrapbook/internal/domain/models"
	"scrapbook/internal/domain/models/docsystem"
)

// DocumentRepository reconstitutes documents from storage and creates new ones
type DocumentRepository interface {
	// Reconstitute loads the most recently committed state of (author, id).
	// Tombstoned documents are returned with Deleted set.
	Reconstitute(ctx context.Context, author, id string) (*docsystem.Document, error)

	// ListByAuthor returns the author's live documents, empty when there are none
	ListByAuthor(ctx context.Context, author string) ([]docsystem.Document, error)

	// Create allocates a fresh id and commits the initial version
	Create(ctx context.Context, req *CreateRequest) (*docsystem.Document, error)

	// GetText returns the document body: a scrap's content, or a book's
	// child scraps concatenated in order
	GetText(ctx context.Context, doc *docsystem.Document) (string, error)
}

// VersionLedger owns each document's append-only version chain
type VersionLedger interface {
	// Commit appends a version on top of doc.Head as the caller observed it.
	// Returns *domain.ConflictError if the head has moved since.
	Commit(ctx context.Context, doc *docsystem.Document, req *CommitRequest) (*docsystem.Version, error)

	// History returns every (message, versionId) newest-first. Unbounded; use
	// HistoryPage for incremental retrieval.
	History(ctx context.Context, doc *docsystem.Document) ([]docsystem.HistoryEntry, error)

	// HistoryPage returns at most limit entries older than before (0 = from head)
	HistoryPage(ctx context.Context, doc *docsystem.Document, before int64, limit int) (*docsystem.HistoryPage, error)

	// Version resolves a version by ULID or by sequence number
	Version(ctx context.Context, doc *docsystem.Document, ref string) (*docsystem.Version, error)
}

// ForkEngine derives independent lineages from existing documents
type ForkEngine interface {
	Fork(ctx context.Context, doc *docsystem.Document, newOwner string) (*docsystem.Document, error)
}

// IndexSynchronizer mirrors committed versions into the search index
type IndexSynchronizer interface {
	// Sync upserts synchronously, retrying; returns *domain.IndexError once retries are exhausted
	Sync(ctx context.Context, doc *docsystem.Document, v *docsystem.Version) error

	// Enqueue hands the version to the background workers without blocking
	Enqueue(doc *docsystem.Document, v *docsystem.Version)
}

// DocumentService is the application facade used by the HTTP handlers
type DocumentService interface {
	GetDocument(ctx context.Context, author, id string) (*DocumentView, error)
	ListByAuthor(ctx context.Context, author string) ([]DocumentView, error)
	CreateDocument(ctx context.Context, creds models.Credentials, req *CreateDocumentRequest) (*DocumentView, error)
	UpdateDocument(ctx context.Context, creds models.Credentials, author, id string, req *UpdateDocumentRequest) (*DocumentView, error)
	DeleteDocument(ctx context.Context, creds models.Credentials, author, id string) error
	ForkDocument(ctx context.Context, creds models.Credentials, author, id string) (*DocumentView, error)
	History(ctx context.Context, author, id string) ([]docsystem.HistoryEntry, error)
	HistoryPage(ctx context.Context, author, id string, before int64, limit int) (*docsystem.HistoryPage, error)
	GetVersion(ctx context.Context, author, id, ref string) (*docsystem.Version, error)
	Diff(ctx context.Context, author, id, from, to string) (*DiffResult, error)
	Render(ctx context.Context, author, id string) (*RenderResult, error)
	Search(ctx context.Context, opts *docsystem.SearchOptions) (*docsystem.SearchResults, error)
}

// CreateRequest is the repository-level create input
type CreateRequest struct {
	Author     string
	Kind       docsystem.Kind
	Title      string
	Content    string
	Children   []docsystem.DocumentKey
	ForkedFrom *docsystem.ForkRef
	Message    string // Defaults to "Created new scrap" / "Created new book"
}

// CommitRequest describes the next version of a document. Nil Title/Children keep the current values.
type CommitRequest struct {
	Content   string
	Title     *string
	Children  []docsystem.DocumentKey
	Message   string
	Tombstone bool
}

// CreateDocumentRequest is the body of POST /documents/new
type CreateDocumentRequest struct {
	Author   string         `json:"author"`
	Kind     docsystem.Kind `json:"kind,omitempty"`
	Title    string         `json:"title,omitempty"`
	Text     string         `json:"text"`
	Children []string       `json:"children,omitempty"` // "author/id" or bare id (same author)
}

// UpdateDocumentRequest is the body of POST /documents/{author}/{id}
type UpdateDocumentRequest struct {
	Content     string   `json:"content"`
	Title       *string  `json:"title,omitempty"`
	Children    []string `json:"children,omitempty"`
	Message     string   `json:"message,omitempty"`
	BaseVersion string   `json:"base_version,omitempty"` // Observed head (version id or seq)
}

// DocumentView is a document plus its resolved text
type DocumentView struct {
	*docsystem.Document
	Text          string `json:"text"`
	HeadVersionID string `json:"head_version_id"`
	HeadSeq       int64  `json:"head_seq"`
	ContentHash   string `json:"content_hash"`
	WordCount     int    `json:"word_count"`
}

// DiffResult is a text diff between two versions of a document
type DiffResult struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Patch   string `json:"patch"`   // diff-match-patch patch text
	Added   int    `json:"added"`   // Inserted characters
	Removed int    `json:"removed"` // Deleted characters
}

// RenderResult is a rendered document artifact
type RenderResult struct {
	Filename    string
	ContentType string
	Body        []byte
}
