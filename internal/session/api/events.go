package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"teamcards/internal/domain"
	"teamcards/internal/session/middleware"
)

// events streams every view transition as Server-Sent Events, starting
// with the current view.
func (r *Router) events(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported", 0)
		return
	}

	done := req.Context().Done()
	views := make(chan domain.View, eventBuffer)
	unsubscribe := r.authority.Subscribe(func(v domain.View) {
		select {
		case views <- v:
		case <-done:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(r.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case v := <-views:
			data, err := json.Marshal(v)
			if err != nil {
				r.logger.Error("encoding view event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", v.Version, data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
