package docsystem

import "time"

// Snapshot is the document state captured by a version.
type Snapshot struct {
	Kind     Kind          `json:"kind"`
	Title    string        `json:"title,omitempty"`
	Content  string        `json:"content,omitempty"`
	Children []DocumentKey `json:"children,omitempty"`
	Deleted  bool          `json:"deleted,omitempty"` // Tombstone
}

// ForkRef records where a forked lineage came from.
type ForkRef struct {
	Author    string `json:"author"`
	ID        string `json:"id"`
	VersionID string `json:"version_id"`
	Seq       int64  `json:"seq"`
}

// Version is an immutable committed snapshot in a document's history.
type Version struct {
	Seq         int64     `json:"seq"`       // 1-based, strictly increasing per document
	ID          string    `json:"id"`        // ULID
	ParentID    string    `json:"parent_id"` // Empty for the first version of a lineage
	Message     string    `json:"message"`
	Snapshot    Snapshot  `json:"snapshot"`
	ForkedFrom  *ForkRef  `json:"forked_from,omitempty"` // Only set on a fork's first version
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// HistoryEntry is the (message, versionId) pair exposed by history
type HistoryEntry struct {
	Message   string    `json:"message"`
	VersionID string    `json:"version_id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// HeadRef is a document key with its current head sequence
type HeadRef struct {
	Key DocumentKey
	Seq int64
}

// HistoryPage is one page of newest-first history.
// NextBefore is the seq to pass as "before" for the next page (0 when exhausted).
type HistoryPage struct {
	Entries    []HistoryEntry `json:"entries"`
	NextBefore int64          `json:"next_before,omitempty"`
}

// Entry converts a version into its history entry
func (v *Version) Entry() HistoryEntry {
	return HistoryEntry{
		Message:   v.Message,
		VersionID: v.ID,
		Seq:       v.Seq,
		CreatedAt: v.CreatedAt,
	}
}
