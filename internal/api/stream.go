package api

import (
	"encoding/json"
	"net/http"

	"github.com/commons-data/shelter.report/internal/httputil"
	"github.com/commons-data/shelter.report/internal/monitoring"
)

// streamObservations serves the live feed over SSE. Each committed
// observation arrives as a fully-formed record; a consumer that wants
// history issues the catch-up query first and merges by id.
func (s *Server) streamObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, ch := s.feed.Subscribe()
	defer s.feed.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	heartbeat := s.clock.NewTicker(s.cfg.GetSSEHeartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case obs, ok := <-ch:
			if !ok {
				// Feed closed, exit gracefully.
				return
			}
			payload, err := json.Marshal(obs)
			if err != nil {
				monitoring.Logf("stream: failed to marshal observation %s: %v", obs.ID, err)
				continue
			}
			if _, err := w.Write([]byte("event: observation\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C():
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
