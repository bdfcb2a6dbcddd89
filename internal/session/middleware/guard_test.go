package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"teamcards/internal/domain"
	"teamcards/internal/session"
	"teamcards/internal/session/middleware"
)

func TestGuards(t *testing.T) {
	id := &domain.Identity{ID: "u-ana"}
	admin := &domain.Profile{IdentityKey: "u-ana", IsAdministrator: true}
	member := &domain.Profile{IdentityKey: "u-ana"}

	views := map[string]domain.View{
		"unauthenticated": {},
		"hinted":          {Hint: &domain.CachedView{IdentityPresent: true, IsAdministrator: true}},
		"pending":         {Identity: id, State: domain.StatePending},
		"member":          {Identity: id, Profile: member, State: domain.StateResolved},
		"admin":           {Identity: id, Profile: admin, IsAdministrator: true, State: domain.StateResolved},
	}

	tests := []struct {
		view       string
		admin      bool
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", false, http.StatusUnauthorized, "unauthorized"},
		{"unauthenticated", true, http.StatusUnauthorized, "unauthorized"},
		{"hinted", true, http.StatusUnauthorized, "unauthorized"},
		{"pending", false, http.StatusServiceUnavailable, "authorization_pending"},
		{"pending", true, http.StatusServiceUnavailable, "authorization_pending"},
		{"member", false, http.StatusOK, ""},
		{"member", true, http.StatusForbidden, "forbidden"},
		{"admin", false, http.StatusOK, ""},
		{"admin", true, http.StatusOK, ""},
	}

	for _, tt := range tests {
		name := tt.view + "/member"
		if tt.admin {
			name = tt.view + "/admin"
		}
		t.Run(name, func(t *testing.T) {
			src := staticViews{views[tt.view]}
			guard := middleware.RequireMember(src)
			if tt.admin {
				guard = middleware.RequireAdmin(src)
			}
			handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := session.ViewFromContext(r.Context()); !ok {
					t.Error("guarded handler should see the view in context")
				}
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/overview", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantCode == "" {
				return
			}
			var errResp domain.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
				t.Fatalf("decoding error response: %v", err)
			}
			if errResp.Error != tt.wantCode {
				t.Errorf("expected %q, got %q", tt.wantCode, errResp.Error)
			}
			wantMsg := map[string]error{
				"unauthorized":          domain.ErrUnauthorized,
				"forbidden":             domain.ErrForbidden,
				"authorization_pending": domain.ErrAuthorizationPending,
			}[tt.wantCode]
			if errResp.Message != wantMsg.Error() {
				t.Errorf("expected message %q, got %q", wantMsg.Error(), errResp.Message)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
				t.Error("pending response should carry Retry-After")
			}
		})
	}
}

// flipViews returns a different view on every call.
type flipViews struct{ calls int }

func (f *flipViews) CurrentView() domain.View {
	f.calls++
	if f.calls == 1 {
		return domain.View{
			Identity:        &domain.Identity{ID: "u-ana"},
			Profile:         &domain.Profile{IsAdministrator: true},
			IsAdministrator: true,
			State:           domain.StateResolved,
		}
	}
	return domain.View{}
}

func TestAttachViewPinsSnapshot(t *testing.T) {
	src := &flipViews{}
	handler := middleware.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, _ := session.ViewFromContext(r.Context())
			if !v.IsAdministrator {
				t.Error("handler should see the snapshot taken on entry")
			}
		}),
		middleware.AttachView(src),
		middleware.RequireMember(src),
		middleware.RequireAdmin(src),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/overview", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if src.calls != 1 {
		t.Errorf("expected one view read, got %d", src.calls)
	}
}
