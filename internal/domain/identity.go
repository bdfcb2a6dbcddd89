package domain

import "time"

// Identity is an authenticated principal as reported by the identity provider.
// The authority treats it as opaque apart from using ID as the directory key.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	SessionID string    `json:"session_id,omitempty"` // differs on every fresh sign-in
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// IsZero reports whether the identity is absent.
func (i Identity) IsZero() bool { return i.ID == "" }

// Same reports whether two identities denote the same principal in the same session.
func (i Identity) Same(other Identity) bool {
	return i.ID == other.ID && i.SessionID == other.SessionID
}

// Expired reports whether the identity's session has ended at now.
// An identity without an expiry never expires.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Credentials are the inputs to a password sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthEvent is a notification from the identity provider's state stream.
// It is sealed: the only variants are SignedIn and SignedOut.
type AuthEvent interface {
	authEvent()
}

// SignedIn reports a new authenticated identity.
type SignedIn struct {
	Identity Identity
}

// SignedOut reports that the provider no longer holds a session.
type SignedOut struct {
	Reason SignOutReason
}

func (SignedIn) authEvent()  {}
func (SignedOut) authEvent() {}

// SignOutReason explains why a SignedOut event was emitted.
type SignOutReason int

const (
	SignOutRequested SignOutReason = iota
	SignOutExpired
	SignOutRevoked
)

func (r SignOutReason) String() string {
	switch r {
	case SignOutRequested:
		return "requested"
	case SignOutExpired:
		return "expired"
	case SignOutRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}
