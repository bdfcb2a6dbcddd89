package middleware

import (
	"net/http"
	"time"

	"teamcards/internal/platform/telemetry"
	"teamcards/internal/session"
)

// Metrics records request counts and latency labelled by the matched
// route pattern. Place it outermost.
func Metrics(m *telemetry.SessionMetrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &session.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			if m != nil {
				m.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), sw.Code, time.Since(start).Seconds())
			}
		})
	}
}

func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}
