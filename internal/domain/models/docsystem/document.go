package docsystem

import (
	"strings"
	"time"
)

// Kind distinguishes plain scraps from books composed of scraps
type Kind string

const (
	KindScrap Kind = "scrap"
	KindBook  Kind = "book"
)

// Valid reports whether k is a known document kind
func (k Kind) Valid() bool {
	return k == KindScrap || k == KindBook
}

// DocumentKey is the composite identity of a document: unique id within an
// author's namespace.
type DocumentKey struct {
	Author string `json:"author"`
	ID     string `json:"id"`
}

// String returns "author/id"
func (k DocumentKey) String() string {
	return k.Author + "/" + k.ID
}

// IndexKey returns the search index key ("author-id")
func (k DocumentKey) IndexKey() string {
	return k.Author + "-" + k.ID
}

// ParseDocumentKey parses "author/id". A bare id is resolved against defaultAuthor.
func ParseDocumentKey(ref, defaultAuthor string) DocumentKey {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	if author, id, ok := strings.Cut(ref, "/"); ok {
		return DocumentKey{Author: author, ID: id}
	}
	return DocumentKey{Author: defaultAuthor, ID: ref}
}

// Document is the aggregate root reconstituted from a document's head version.
type Document struct {
	Author     string        `json:"author"`
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Title      string        `json:"title,omitempty"`
	Content    string        `json:"content,omitempty"`  // Scrap text; empty for books
	Children   []DocumentKey `json:"children,omitempty"` // Book parts in reading order
	Head       *Version      `json:"-"`
	ForkedFrom *ForkRef      `json:"forked_from,omitempty"`
	Deleted    bool          `json:"deleted,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Key returns the document's composite key
func (d *Document) Key() DocumentKey {
	return DocumentKey{Author: d.Author, ID: d.ID}
}

// HeadSeq returns the sequence of the head version the document was read at (0 if none)
func (d *Document) HeadSeq() int64 {
	if d.Head == nil {
		return 0
	}
	return d.Head.Seq
}

// HeadID returns the head version id, empty if none
func (d *Document) HeadID() string {
	if d.Head == nil {
		return ""
	}
	return d.Head.ID
}

// Snapshot returns the document state as it would be stored in a version
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		Kind:     d.Kind,
		Title:    d.Title,
		Content:  d.Content,
		Children: append([]DocumentKey(nil), d.Children...),
		Deleted:  d.Deleted,
	}
}

// FromVersions builds a Document from its head version. createdAt is the
// timestamp of the first version in the lineage.
func FromVersions(key DocumentKey, head *Version, first *Version) *Document {
	doc := &Document{
		Author:     key.Author,
		ID:         key.ID,
		Kind:       head.Snapshot.Kind,
		Title:      head.Snapshot.Title,
		Content:    head.Snapshot.Content,
		Children:   append([]DocumentKey(nil), head.Snapshot.Children...),
		Head:       head,
		Deleted:    head.Snapshot.Deleted,
		CreatedAt:  head.CreatedAt,
		UpdatedAt:  head.CreatedAt,
		ForkedFrom: head.ForkedFrom,
	}
	if first != nil {
		doc.CreatedAt = first.CreatedAt
		doc.ForkedFrom = first.ForkedFrom
	}
	return doc
}
