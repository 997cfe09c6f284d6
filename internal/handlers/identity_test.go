package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"freight-market/internal/apperror"
	"freight-market/internal/models"

	"github.com/google/uuid"
)

type stubResolver struct {
	profile *models.Profile
	err     error
	email   string
}

func (s *stubResolver) Resolve(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	s.email = email
	if s.err != nil {
		return nil, s.err
	}
	p := *s.profile
	p.UserID = userID
	return &p, nil
}

func TestIdentityMiddleware(t *testing.T) {
	userID := uuid.New()
	resolver := &stubResolver{profile: &models.Profile{Email: "jane@example.ch"}}

	var seen *models.Profile
	next := func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(HeaderUserID, userID.String())
	req.Header.Set(HeaderUserEmail, " jane@example.ch ")
	rr := httptest.NewRecorder()
	IdentityMiddleware(resolver, testLogger(), next)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if seen == nil || seen.UserID != userID {
		t.Fatalf("actor not propagated: %+v", seen)
	}
	if resolver.email != "jane@example.ch" {
		t.Fatalf("expected trimmed email, got %q", resolver.email)
	}
}

func TestIdentityMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		err    error
		code   int
	}{
		{"missing header", "", nil, http.StatusUnauthorized},
		{"invalid uuid", "not-a-uuid", nil, http.StatusUnauthorized},
		{"unknown user", uuid.NewString(), apperror.Unauthorized("unknown user", nil), http.StatusUnauthorized},
		{"email taken", uuid.NewString(), apperror.Conflict("email already used by another profile", nil), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			resolver := &stubResolver{profile: &models.Profile{}, err: tt.err}
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.header != "" {
				req.Header.Set(HeaderUserID, tt.header)
			}
			rr := httptest.NewRecorder()
			IdentityMiddleware(resolver, testLogger(), func(w http.ResponseWriter, r *http.Request) { called = true })(rr, req)

			if rr.Code != tt.code || called {
				t.Fatalf("expected %d without calling next, got %d called=%v", tt.code, rr.Code, called)
			}
		})
	}
}
