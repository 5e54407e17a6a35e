package auth

import (
	"context"
	"fmt"
	"log/slog"

	"scrapbook/internal/auth"
	"scrapbook/internal/domain"
	"scrapbook/internal/domain/models"
	"scrapbook/internal/domain/models/docsystem"
	"scrapbook/internal/domain/services"
)

// Guard implements AccessGuard using ownership checks.
// A caller may mutate a document only if they are its author. Any verified
// caller may fork.
type Guard struct {
	authn  auth.Authenticator
	logger *slog.Logger
}

// NewGuard creates a new ownership-based guard
func NewGuard(authn auth.Authenticator, logger *slog.Logger) *Guard {
	return &Guard{authn: authn, logger: logger}
}

var _ services.AccessGuard = (*Guard)(nil)

// Verify checks credentials with the authenticator
func (g *Guard) Verify(ctx context.Context, creds models.Credentials) services.VerifyResult {
	if creds.Empty() {
		return services.VerifyResult{}
	}
	identity, err := g.authn.Verify(ctx, creds.BearerToken)
	if err != nil {
		return services.VerifyResult{}
	}
	return services.VerifyResult{Success: true, Identity: identity.Username}
}

// AuthorizeCreate allows a verified caller to create documents under their own name.
// An empty author means the caller's.
func (g *Guard) AuthorizeCreate(ctx context.Context, creds models.Credentials, author string) (string, error) {
	identity, err := g.identity(ctx, creds)
	if err != nil {
		return "", err
	}
	if author != "" && author != identity {
		return "", g.notOwner(identity, fmt.Sprintf("cannot create documents for %s", author))
	}
	return identity, nil
}

// AuthorizeUpdate allows only the document's author
func (g *Guard) AuthorizeUpdate(ctx context.Context, creds models.Credentials, doc *docsystem.Document) (string, error) {
	identity, err := g.identity(ctx, creds)
	if err != nil {
		return "", err
	}
	if doc.Author != identity {
		return "", g.notOwner(identity, fmt.Sprintf("%s is not your scrap", doc.Key()))
	}
	return identity, nil
}

// AuthorizeFork allows any verified caller
func (g *Guard) AuthorizeFork(ctx context.Context, creds models.Credentials) (string, error) {
	return g.identity(ctx, creds)
}

func (g *Guard) identity(ctx context.Context, creds models.Credentials) (string, error) {
	result := g.Verify(ctx, creds)
	if !result.Success {
		return "", &domain.ForbiddenError{
			Reason:  domain.ReasonUnauthenticated,
			Message: "could not verify identity",
		}
	}
	return result.Identity, nil
}

func (g *Guard) notOwner(identity, message string) error {
	g.logger.Debug("access denied", "identity", identity, "reason", message)
	return &domain.ForbiddenError{
		Reason:   domain.ReasonNotOwner,
		Identity: identity,
		Message:  message,
	}
}
