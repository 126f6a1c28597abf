package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/exostack/exohub/internal/notify"
)

// handleHealthz is a trivial liveness probe for the process itself,
// distinct from agent liveness tracked by the registry (grounded in
// original_source/exo_hub/routers/status.py's /status/health).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleEvents streams registry state transitions as Server-Sent Events,
// adapted from the teacher's handleList/isStreamAccept/Notify/Stop
// pattern in harpoon-agent/api.go: subscribe a channel, write each event
// as it arrives, unsubscribe on disconnect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan notify.Event, 16)
	s.hub.Events.Subscribe(events)
	defer s.hub.Events.Unsubscribe(events)

	for {
		select {
		case e := <-events:
			buf, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", buf)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
