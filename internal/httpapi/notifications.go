package httpapi

import (
	"net/http"
	"time"

	"github.com/exostack/exohub/hub"
)

// handleAgentWait implements the agent-notification receiver sub-route,
// routed through pat rather than httprouter (spec §6's "added" surface,
// SPEC_FULL §6): an agent that has nothing queued can long-poll here
// instead of re-polling /nodes/heartbeat, mirroring the teacher's
// bmizerany/pat usage in harpoon-agent/api.go for its own
// few-named-params routes.
func (s *Server) handleAgentWait(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get(":id")
	if agentID == "" {
		badRequest(w, "agent id required")
		return
	}

	if _, ok := s.hub.Registry.GetAgent(agentID); !ok {
		writeError(w, hub.Errorf(hub.NotFound, "unknown agent %s", agentID))
		return
	}

	timeout := s.waitTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if ms, err := time.ParseDuration(raw + "ms"); err == nil && ms > 0 {
			timeout = ms
		}
	}

	n, ok := s.hub.Notify.Wait(agentID, timeout)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, notificationPayload{TaskID: n.TaskID, Model: n.Model})
}
