package models

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims accepted by the service.
type Claims struct {
	jwt.RegisteredClaims        // Standard JWT claims (sub, iss, aud, exp, iat, etc.)
	Username             string `json:"preferred_username"`
	Email                string `json:"email"`
	Role                 string `json:"role"` // "authenticated" or "anon"
}

// GetUsername returns the account name documents are owned by.
// Falls back to the subject when no username claim is present.
func (c *Claims) GetUsername() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// Identity is a verified caller.
type Identity struct {
	Username string
	Subject  string
}

// Credentials carries what the request presented for authentication.
type Credentials struct {
	BearerToken string
}

// Empty reports whether no credentials were presented
func (c Credentials) Empty() bool {
	return c.BearerToken == ""
}
