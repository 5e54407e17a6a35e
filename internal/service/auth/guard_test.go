package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"scrapbook/internal/domain"
	"scrapbook/internal/domain/models"
	"scrapbook/internal/domain/models/docsystem"
)

// stubAuthenticator maps tokens to usernames and counts calls
type stubAuthenticator struct {
	mu     sync.Mutex
	tokens map[string]string
	calls  int
}

func (s *stubAuthenticator) Verify(_ context.Context, token string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	username, ok := s.tokens[token]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &models.Identity{Username: username, Subject: username}, nil
}

func (s *stubAuthenticator) Close() error { return nil }

func newTestGuard() (*Guard, *stubAuthenticator) {
	authn := &stubAuthenticator{tokens: map[string]string{"amy-token": "amy", "bob-token": "bob"}}
	return NewGuard(authn, slog.New(slog.NewTextHandler(io.Discard, nil))), authn
}

func TestGuard_Verify(t *testing.T) {
	guard, authn := newTestGuard()
	ctx := context.Background()

	if got := guard.Verify(ctx, models.Credentials{BearerToken: "amy-token"}); !got.Success || got.Identity != "amy" {
		t.Errorf("Verify(amy) = %+v", got)
	}
	if got := guard.Verify(ctx, models.Credentials{BearerToken: "forged"}); got.Success {
		t.Errorf("Verify(forged) = %+v", got)
	}
	before := authn.calls
	if got := guard.Verify(ctx, models.Credentials{}); got.Success {
		t.Errorf("Verify(empty) = %+v", got)
	}
	if authn.calls != before {
		t.Errorf("empty credentials reached the authenticator")
	}
}

func TestGuard_Authorize(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()
	amy := models.Credentials{BearerToken: "amy-token"}
	bob := models.Credentials{BearerToken: "bob-token"}
	anon := models.Credentials{}
	amysDoc := &docsystem.Document{Author: "amy", ID: "s1"}

	tests := []struct {
		name         string
		call         func() (string, error)
		wantIdentity string
		wantErr      error
	}{
		{"owner creates", func() (string, error) { return guard.AuthorizeCreate(ctx, amy, "amy") }, "amy", nil},
		{"create defaults to caller", func() (string, error) { return guard.AuthorizeCreate(ctx, amy, "") }, "amy", nil},
		{"create for someone else", func() (string, error) { return guard.AuthorizeCreate(ctx, bob, "amy") }, "", domain.ErrNotOwner},
		{"anonymous create", func() (string, error) { return guard.AuthorizeCreate(ctx, anon, "amy") }, "", domain.ErrUnauthenticated},
		{"owner updates", func() (string, error) { return guard.AuthorizeUpdate(ctx, amy, amysDoc) }, "amy", nil},
		{"other user updates", func() (string, error) { return guard.AuthorizeUpdate(ctx, bob, amysDoc) }, "", domain.ErrNotOwner},
		{"anonymous update", func() (string, error) { return guard.AuthorizeUpdate(ctx, anon, amysDoc) }, "", domain.ErrUnauthenticated},
		{"other user forks", func() (string, error) { return guard.AuthorizeFork(ctx, bob) }, "bob", nil},
		{"anonymous fork", func() (string, error) { return guard.AuthorizeFork(ctx, anon) }, "", domain.ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identity, err := tt.call()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, domain.ErrForbidden) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if identity != tt.wantIdentity {
				t.Errorf("identity = %q, want %q", identity, tt.wantIdentity)
			}
		})
	}
}
