package middleware

import (
	"net/http"
	"strings"

	"scrapbook/internal/domain/models"
	"scrapbook/internal/httputil"
)

// Auth extracts bearer credentials into the request context.
// Tokens are verified by the access guard on mutating routes.
func Auth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := models.Credentials{BearerToken: bearerToken(r.Header.Get("Authorization"))}
			next.ServeHTTP(w, httputil.WithCredentials(r, creds))
		})
	}
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
