package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/exostack/exohub/hub"
)

type registerRequest struct {
	ID           string   `json:"id"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
}

type registerResponse struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

func (s *Server) handleNodeRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed register body: %s", err)
		return
	}

	a, outcome, err := s.hub.RegisterAgent(req.ID, req.Host, req.Port, hub.NewCapabilities(req.Capabilities...))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{OK: true, AgentID: a.ID, Status: string(outcome)})
}

type heartbeatRequest struct {
	ID          string   `json:"id"`
	Load        *float64 `json:"load"`
	ActiveTasks *int     `json:"active_tasks"`
}

type heartbeatResponse struct {
	OK            bool                  `json:"ok"`
	Notifications []notificationPayload `json:"notifications"`
}

type notificationPayload struct {
	TaskID string `json:"task_id"`
	Model  string `json:"model"`
}

func (s *Server) handleNodeHeartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed heartbeat body: %s", err)
		return
	}
	if req.ID == "" {
		badRequest(w, "id required")
		return
	}

	if err := s.hub.Heartbeat(req.ID); err != nil {
		writeError(w, err)
		return
	}
	if req.Load != nil || req.ActiveTasks != nil {
		load, active := 0.0, 0
		if req.Load != nil {
			load = *req.Load
		}
		if req.ActiveTasks != nil {
			active = *req.ActiveTasks
		}
		if err := s.hub.Registry.UpdateLoad(req.ID, load, active); err != nil {
			writeError(w, err)
			return
		}
	}

	drained := s.hub.Notify.Drain(req.ID)
	notifications := make([]notificationPayload, 0, len(drained))
	for _, n := range drained {
		notifications = append(notifications, notificationPayload{TaskID: n.TaskID, Model: n.Model})
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{OK: true, Notifications: notifications})
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	agents := s.hub.Registry.ListAgents(hub.AgentFilter{})
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, newAgentView(a))
	}
	writeJSON(w, http.StatusOK, views)
}
