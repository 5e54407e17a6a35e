package config

const (
	// MaxTitleLength is the maximum length for document titles.
	MaxTitleLength = 255

	// MaxAuthorLength is the maximum length for author names.
	MaxAuthorLength = 64

	// MaxContentLength is the maximum number of characters in a scrap.
	MaxContentLength = 1 << 20

	// MaxBookChildren is the maximum number of scraps a book may reference.
	MaxBookChildren = 500

	// MaxMessageLength is the maximum length for commit messages.
	MaxMessageLength = 500

	// DefaultHistoryPageSize is used when a paged history request omits limit.
	DefaultHistoryPageSize = 50

	// MaxHistoryPageSize caps a single history page.
	MaxHistoryPageSize = 500

	// MaxRequestBodyBytes bounds JSON request bodies. Leaves room for
	// MaxContentLength of text plus JSON escaping.
	MaxRequestBodyBytes = 4 << 20
)
