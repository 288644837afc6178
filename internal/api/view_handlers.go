package api

import (
	"net/http"

	"github.com/commons-data/shelter.report/internal/httputil"
)

// showView serves the server-side synchronizer's snapshot: the bounded
// event set, connection status and derived stats in one payload. Pollers
// compare the version counter to skip unchanged re-renders.
func (s *Server) showView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.view == nil {
		httputil.NotFound(w, "no synchronizer attached")
		return
	}
	httputil.WriteJSONOK(w, s.view.Snapshot())
}

// showOverlay serves the transient sightings currently within their display
// window. Expired entries are already pruned by the ring.
func (s *Server) showOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.view == nil || s.view.Overlay == nil {
		httputil.NotFound(w, "no synchronizer attached")
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"sightings": s.view.Overlay.Active(),
	})
}

// toggleRecording flips the capture toggle and reports the new state.
func (s *Server) toggleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.view == nil {
		httputil.NotFound(w, "no synchronizer attached")
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"recording": s.view.ToggleRecording()})
}
