package domain

import "errors"

// Sentinel errors used across package boundaries.
var (
	ErrCredentialsRejected  = errors.New("credentials rejected")
	ErrLookupFailed         = errors.New("directory lookup failed")
	ErrSignOutFailed        = errors.New("sign-out failed")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrTokenExpired         = errors.New("token expired")
	ErrInvalidToken         = errors.New("invalid token")
	ErrClosed               = errors.New("session authority closed")
)

// ErrorResponse is the JSON error envelope of the local HTTP surface.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}
