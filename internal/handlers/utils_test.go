package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"freight-market/internal/models"

	"github.com/google/uuid"
)

func TestExtractUUIDFromPath(t *testing.T) {
	id := "123e4567-e89b-12d3-a456-426614174000"
	parsed, err := extractUUIDFromPath("/api/mandats/"+id+"/claim", "/api/mandats/")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.String() != id {
		t.Fatalf("unexpected id: %s", parsed)
	}

	if _, err := extractUUIDFromPath("/wrong/path", "/api/mandats/"); err == nil {
		t.Fatalf("expected error for invalid path")
	}
	if _, err := extractUUIDFromPath("/api/mandats/not-a-uuid", "/api/mandats/"); err == nil {
		t.Fatalf("expected error for invalid uuid")
	}
}

func TestWriteJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]string{"ok": "true"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content-type: %s", ct)
	}
	if body := rr.Body.String(); body == "" {
		t.Fatalf("empty body")
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query         string
		limit, offset int
	}{
		{"", defaultLimit, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=1000&offset=-1", defaultLimit, 0},
		{"limit=abc&offset=xyz", defaultLimit, 0},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		limit, offset := parsePagination(q)
		if limit != tt.limit || offset != tt.offset {
			t.Fatalf("%q: got limit=%d offset=%d", tt.query, limit, offset)
		}
	}
}

func TestActorContext(t *testing.T) {
	if ActorFrom(context.Background()) != nil {
		t.Fatalf("expected no actor in empty context")
	}
	p := &models.Profile{UserID: uuid.New()}
	if got := ActorFrom(WithActor(context.Background(), p)); got != p {
		t.Fatalf("actor not propagated")
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if _, ok := requireActor(rr, req); ok || rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", rr.Code)
	}
}
