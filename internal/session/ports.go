package session

import (
	"context"
	"crypto/rsa"
	"net/http"

	"teamcards/internal/domain"
)

// IdentityProvider is the hosted authentication collaborator.
type IdentityProvider interface {
	// OnAuthStateChange registers fn for every sign-in/sign-out notification
	// and returns a function that removes the registration.
	OnAuthStateChange(fn func(domain.AuthEvent)) (unsubscribe func())

	// SignInWithPassword verifies credentials and returns the new identity.
	SignInWithPassword(ctx context.Context, creds domain.Credentials) (domain.Identity, error)

	// SignOut ends the provider session.
	SignOut(ctx context.Context) error

	// CurrentSession returns the identity the provider already holds, if any.
	CurrentSession(ctx context.Context) (domain.Identity, bool, error)
}

// DirectoryLookup resolves the profile linked to an identity.
// A nil profile with a nil error means the identity has no directory entry.
type DirectoryLookup interface {
	FindProfileByIdentity(ctx context.Context, id domain.Identity) (*domain.Profile, error)
}

// Cache persists the last resolved view across restarts. It is a hint only.
type Cache interface {
	Load(ctx context.Context) (domain.CachedView, bool, error)
	Save(ctx context.Context, v domain.CachedView) error
	Clear(ctx context.Context) error
}

// KeyProvider fetches and caches the identity provider's signing keys.
type KeyProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// ViewSource exposes the current authorization view.
type ViewSource interface {
	CurrentView() domain.View
}

// Throttle decides whether an action identified by key may proceed.
type Throttle interface {
	Allow(key string) ThrottleResult
}

// ThrottleResult holds the outcome of a throttle check.
type ThrottleResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streamed responses keep working.
func (sw *StatusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
