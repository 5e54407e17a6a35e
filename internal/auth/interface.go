package auth

import (
	"context"

	"scrapbook/internal/domain/models"
)

// Authenticator verifies bearer tokens.
// This abstraction keeps the access guard agnostic to how tokens are signed.
type Authenticator interface {
	// Verify validates a token and returns the caller's identity.
	// Returns domain.ErrUnauthenticated if the token is invalid, expired, or has an invalid signature.
	Verify(ctx context.Context, token string) (*models.Identity, error)

	// Close releases any resources held by the authenticator (e.g., JWKS refresh).
	Close() error
}
