package httputil

import (
	"context"
	"net/http"

	"scrapbook/internal/domain/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	credentialsKey contextKey = "credentials"
)

// WithCredentials adds the presented credentials to the request context
func WithCredentials(r *http.Request, creds models.Credentials) *http.Request {
	ctx := context.WithValue(r.Context(), credentialsKey, creds)
	return r.WithContext(ctx)
}

// GetCredentials retrieves credentials from context, empty if none were presented
func GetCredentials(r *http.Request) models.Credentials {
	creds, _ := r.Context().Value(credentialsKey).(models.Credentials)
	return creds
}
