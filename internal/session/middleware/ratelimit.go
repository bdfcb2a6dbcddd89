package middleware

import (
	"net"
	"net/http"

	"teamcards/internal/domain"
	"teamcards/internal/platform/telemetry"
	"teamcards/internal/session"
)

// RateLimit enforces a per-client-address limit.
// The metrics parameter is optional; pass nil to skip metric recording.
func RateLimit(th session.Throttle, m *telemetry.SessionMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := th.Allow(ClientIP(r))
			if m != nil {
				m.RecordRateLimitDecision(r.Context(), "ip", decision(result.Allowed))
			}
			if !result.Allowed {
				WriteError(w, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error(), result.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of RemoteAddr. Forwarding headers are
// client-controlled and ignored.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decision(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
