package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"scrapbook/internal/domain/models"
)

// HMACVerifier implements Authenticator for HS256 tokens signed with a shared
// secret. Used in dev and tests where no identity provider is running.
type HMACVerifier struct {
	secret []byte
	logger *slog.Logger
}

// NewHMACVerifier creates a verifier for tokens signed with secret
func NewHMACVerifier(secret string, logger *slog.Logger) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	return &HMACVerifier{secret: []byte(secret), logger: logger}, nil
}

var _ Authenticator = (*HMACVerifier)(nil)

// Verify validates an HS256 token
func (v *HMACVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	return verifyToken(token, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, []string{"HS256"}, v.logger)
}

// Close is a no-op
func (v *HMACVerifier) Close() error {
	return nil
}

// SignHMAC issues an HS256 token carrying claims.
// Used by dev tooling and tests.
func SignHMAC(secret string, claims *models.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
