package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"teamcards/internal/session"
	"teamcards/internal/session/middleware"
)

func captureRequestID(header string) (string, *httptest.ResponseRecorder) {
	var captured string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = session.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	handler.ServeHTTP(rec, req)
	return captured, rec
}

func TestRequestIDSetsHeader(t *testing.T) {
	id, rec := captureRequestID("")

	if id == "" {
		t.Error("expected request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != id {
		t.Errorf("expected X-Request-ID header %q, got %q", id, rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDPreservesExisting(t *testing.T) {
	id, _ := captureRequestID("existing-id")

	if id != "existing-id" {
		t.Errorf("expected preserved request ID 'existing-id', got %q", id)
	}
}

func TestRequestIDReplacesInvalid(t *testing.T) {
	for _, bad := range []string{strings.Repeat("a", 200), "has space"} {
		id, _ := captureRequestID(bad)
		if id == bad || id == "" {
			t.Errorf("expected %q to be replaced, got %q", bad, id)
		}
	}
}
