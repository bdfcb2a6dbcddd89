package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"teamcards/internal/domain"
)

// WriteError writes a JSON ErrorResponse. A positive retryAfter also sets
// the Retry-After header.
func WriteError(w http.ResponseWriter, status int, code, msg string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:      code,
		Message:    msg,
		RetryAfter: retryAfter,
	}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
