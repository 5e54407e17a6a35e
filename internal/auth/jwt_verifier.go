package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"scrapbook/internal/domain"
	"scrapbook/internal/domain/models"
)

// Asymmetric algorithms accepted from the identity provider
var jwksAlgorithms = []string{"RS256", "ES256"}

// JWKSVerifier implements Authenticator using public keys from a JWKS endpoint.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewJWKSVerifier creates a verifier that fetches public keys from jwksURL.
// The JWKS keys are cached and refreshed in the background until Close.
func NewJWKSVerifier(jwksURL string, logger *slog.Logger) (*JWKSVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)

	return &JWKSVerifier{
		jwks:   jwks,
		cancel: cancel,
		logger: logger,
	}, nil
}

var _ Authenticator = (*JWKSVerifier)(nil)

// Verify validates a JWT and extracts the caller identity
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	return verifyToken(token, v.jwks.Keyfunc, jwksAlgorithms, v.logger)
}

// Close stops the background JWKS refresh
func (v *JWKSVerifier) Close() error {
	v.cancel()
	v.logger.Info("JWT verifier closed")
	return nil
}

// verifyToken parses token with keyFunc, restricted to the given algorithms
// to prevent algorithm confusion.
func verifyToken(token string, keyFunc jwt.Keyfunc, algorithms []string, logger *slog.Logger) (*models.Identity, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &models.Claims{}, keyFunc,
		jwt.WithValidMethods(algorithms),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		logger.Debug("token rejected", "error", err)
		return nil, domain.ErrUnauthenticated
	}
	if !parsed.Valid {
		return nil, domain.ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*models.Claims)
	if !ok {
		logger.Error("failed to extract claims from token")
		return nil, domain.ErrUnauthenticated
	}

	// Anonymous tokens carry a role but no account
	if claims.Role == "anon" {
		logger.Debug("anonymous token rejected", "subject", claims.Subject)
		return nil, domain.ErrUnauthenticated
	}

	username := claims.GetUsername()
	if username == "" {
		logger.Debug("token missing subject claim")
		return nil, domain.ErrUnauthenticated
	}

	return &models.Identity{Username: username, Subject: claims.Subject}, nil
}
