package domain

import (
	"fmt"
	"time"
)

// ResolutionState is the authority's position in the sign-in state machine.
type ResolutionState int

const (
	StateUnauthenticated ResolutionState = iota
	StatePending
	StateResolved
)

func (s ResolutionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ResolutionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *ResolutionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "unauthenticated":
		*s = StateUnauthenticated
	case "pending":
		*s = StatePending
	case "resolved":
		*s = StateResolved
	default:
		return fmt.Errorf("invalid resolution state %q", text)
	}
	return nil
}

// Access is the outcome of an authorization decision against a view.
// AccessPending is distinct from AccessDenied: it means no decision can be made yet.
type Access int

const (
	AccessPending Access = iota
	AccessDenied
	AccessGranted
)

func (a Access) String() string {
	switch a {
	case AccessPending:
		return "pending"
	case AccessDenied:
		return "denied"
	case AccessGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// View is an immutable snapshot of who is signed in and what they may do.
// Identity and Profile are shared between copies and must not be mutated.
type View struct {
	Identity        *Identity       `json:"identity,omitempty"`
	Profile         *Profile        `json:"profile,omitempty"`
	IsAdministrator bool            `json:"is_administrator"`
	State           ResolutionState `json:"state"`
	Version         uint64          `json:"version"`

	// Hint carries the last persisted view from a previous run. It is never
	// authoritative and is dropped on the first live resolution.
	Hint *CachedView `json:"hint,omitempty"`
}

// Authenticated reports whether an identity is present.
func (v View) Authenticated() bool { return v.Identity != nil }

// MemberAccess decides access to login-gated routes.
func (v View) MemberAccess() Access {
	switch v.State {
	case StateResolved:
		return AccessGranted
	case StatePending:
		return AccessPending
	default:
		return AccessDenied
	}
}

// AdminAccess decides access to administrator-gated routes.
func (v View) AdminAccess() Access {
	switch v.State {
	case StateResolved:
		if v.IsAdministrator && v.Profile != nil && v.Profile.IsAdministrator {
			return AccessGranted
		}
		return AccessDenied
	case StatePending:
		return AccessPending
	default:
		return AccessDenied
	}
}

// CachedView is the persisted, non-authoritative mirror of a resolved view.
type CachedView struct {
	IdentityPresent bool      `json:"identity_present"`
	IsAdministrator bool      `json:"is_administrator"`
	Profile         *Profile  `json:"profile,omitempty"`
	SavedAt         time.Time `json:"saved_at"`
}
