package services

import (
	"context"

	"scrapbook/internal/domain/models"
	"scrapbook/internal/domain/models/docsystem"
)

// VerifyResult is the outcome of verifying request credentials
type VerifyResult struct {
	Success  bool
	Identity string
}

// AccessGuard gates every mutation. Services call it before touching the
// repository or ledger.
//
// Ownership model: only a document's author may update or delete it; any
// authenticated identity may fork any document and owns the fork.
type AccessGuard interface {
	// Verify checks credentials with the authentication collaborator
	Verify(ctx context.Context, creds models.Credentials) VerifyResult

	// AuthorizeCreate requires authentication and that author is the caller (or empty)
	AuthorizeCreate(ctx context.Context, creds models.Credentials, author string) (string, error)

	// AuthorizeUpdate requires authentication and ownership of doc
	AuthorizeUpdate(ctx context.Context, creds models.Credentials, doc *docsystem.Document) (string, error)

	// AuthorizeFork requires authentication only
	AuthorizeFork(ctx context.Context, creds models.Credentials) (string, error)
}
