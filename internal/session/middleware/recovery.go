package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"teamcards/internal/session"
)

// Recovery turns a handler panic into a 500 JSON error.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic recovered",
						"error", err,
						"request_id", session.RequestIDFromContext(r.Context()),
						"stack", string(debug.Stack()),
					)
					WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred", 0)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
