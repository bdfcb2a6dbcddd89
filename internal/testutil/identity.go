package testutil

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"teamcards/internal/domain"
)

// MockIdentity is an in-process identity service speaking the password
// grant, serving its key set and accepting bearer logouts.
type MockIdentity struct {
	Kid  string
	Priv *rsa.PrivateKey
	Pub  *rsa.PublicKey

	t   *testing.T
	mu  sync.Mutex
	ttl time.Duration

	users       map[string]fakeUser
	logouts     int
	logoutFails bool
}

func NewMockIdentity(t *testing.T) *MockIdentity {
	t.Helper()
	kid, priv, pub := GenerateTestKeyPair(t)
	return &MockIdentity{
		Kid:   kid,
		Priv:  priv,
		Pub:   pub,
		t:     t,
		ttl:   15 * time.Minute,
		users: make(map[string]fakeUser),
	}
}

// AddUser registers a user. The identity's SessionID is ignored: every
// grant mints a fresh one.
func (m *MockIdentity) AddUser(password string, id domain.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(id.Email)] = fakeUser{password: password, identity: id}
}

// SetTTL changes the lifetime of tokens issued afterwards.
func (m *MockIdentity) SetTTL(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl = ttl
}

// FailLogouts makes the logout endpoint answer 502.
func (m *MockIdentity) FailLogouts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutFails = fail
}

func (m *MockIdentity) Logouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts
}

// Token issues an access token for id directly, bypassing the grant.
func (m *MockIdentity) Token(id domain.Identity, ttl time.Duration) string {
	return IssueTestToken(m.t, m.Kid, m.Priv, id, ttl)
}

func (m *MockIdentity) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /.well-known/jwks.json", MockJWKSHandler(m.Kid, m.Pub))
	mux.HandleFunc("POST /auth/token", m.handleToken)
	mux.HandleFunc("POST /auth/logout", m.handleLogout)
	return mux
}

func (m *MockIdentity) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "password" {
		writeOAuthError(w, "unsupported_grant_type", "only the password grant is supported")
		return
	}

	m.mu.Lock()
	u, ok := m.users[strings.ToLower(r.PostForm.Get("username"))]
	ttl := m.ttl
	m.mu.Unlock()
	if !ok || u.password != r.PostForm.Get("password") {
		writeOAuthError(w, "invalid_grant", "Invalid login credentials")
		return
	}

	id := u.identity
	id.SessionID = uuid.NewString()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": m.Token(id, ttl),
		"token_type":   "Bearer",
		"expires_in":   int(ttl.Seconds()),
	})
}

func (m *MockIdentity) handleLogout(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.logouts++
	fail := m.logoutFails
	m.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeOAuthError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": desc,
	})
}
