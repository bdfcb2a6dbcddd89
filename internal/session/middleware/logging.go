package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"teamcards/internal/session"
)

// Logging logs one line per request, including the authorization state
// the request was served under.
func Logging(logger *slog.Logger, views session.ViewSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &session.StatusWriter{ResponseWriter: w, Code: http.StatusOK}

			next.ServeHTTP(sw, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Code,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"request_id", session.RequestIDFromContext(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if views != nil {
				v := views.CurrentView()
				attrs = append(attrs, "view_state", v.State.String(), "view_version", v.Version)
				if v.Identity != nil {
					attrs = append(attrs, "identity_id", v.Identity.ID)
				}
			}
			logger.Info("request", attrs...)
		})
	}
}
