package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/exostack/exohub/hub"
)

type taskCreateRequest struct {
	Model       string          `json:"model"`
	InputData   json.RawMessage `json:"input_data"`
	ContentType string          `json:"content_type"`
	Priority    *int            `json:"priority"`
}

func (req taskCreateRequest) toInput() hub.TaskInput {
	ct := req.ContentType
	if ct == "" {
		ct = "application/json"
	}
	return hub.TaskInput{ContentType: ct, Payload: []byte(req.InputData)}
}

func (req taskCreateRequest) priority() int {
	if req.Priority == nil {
		return hub.DefaultPriority
	}
	return *req.Priority
}

type taskCreateResponse struct {
	OK     bool   `json:"ok"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed task body: %s", err)
		return
	}
	id, err := s.hub.SubmitTask(req.Model, req.toInput(), req.priority())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskCreateResponse{OK: true, TaskID: id, Status: "created"})
}

type taskBatchResponse struct {
	OK      bool     `json:"ok"`
	TaskIDs []string `json:"task_ids"`
	Count   int      `json:"count"`
}

func (s *Server) handleTaskBatch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var reqs []taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		badRequest(w, "malformed batch body: %s", err)
		return
	}
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		id, err := s.hub.SubmitTask(req.Model, req.toInput(), req.priority())
		if err != nil {
			writeError(w, err)
			return
		}
		ids = append(ids, id)
	}
	writeJSON(w, http.StatusOK, taskBatchResponse{OK: true, TaskIDs: ids, Count: len(ids)})
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, ok := s.hub.Registry.GetTask(ps.ByName("task_id"))
	if !ok {
		writeError(w, hub.Errorf(hub.NotFound, "unknown task %s", ps.ByName("task_id")))
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(t))
}

type taskStatusUpdateRequest struct {
	Status hub.TaskStatus  `json:"status"`
	Result *hub.TaskResult `json:"result"`
}

// handleTaskStatusUpdate implements the generic status-transition
// endpoint from spec §6 (grounded in
// original_source/exo_hub/routers/tasks.py's update_task_status, which
// applies any requested status with no ownership check — this admin
// surface exists for operators/tests, not agents, which use the
// complete/fail endpoints instead).
func (s *Server) handleTaskStatusUpdate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	taskID := ps.ByName("task_id")
	var req taskStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed status body: %s", err)
		return
	}
	current, ok := s.hub.Registry.GetTask(taskID)
	if !ok {
		writeError(w, hub.Errorf(hub.NotFound, "unknown task %s", taskID))
		return
	}
	if err := s.hub.Registry.TransitionTask(taskID, current.Status, req.Status, req.Result); err != nil {
		writeError(w, err)
		return
	}
	updated, _ := s.hub.Registry.GetTask(taskID)
	writeJSON(w, http.StatusOK, newTaskView(updated))
}

type taskCancelResponse struct {
	OK     bool   `json:"ok"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	taskID := ps.ByName("task_id")
	if err := s.hub.CancelTask(taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskCancelResponse{OK: true, TaskID: taskID, Status: string(hub.TaskCancelled)})
}

func (s *Server) handleTaskStatusList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}
	writeTaskList(w, s.hub.Registry.ListTasks(hub.TaskFilter{}, limit))
}

func (s *Server) handleQueuePending(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	pending := hub.TaskPending
	writeTaskList(w, s.hub.Registry.ListTasks(hub.TaskFilter{Status: &pending}, 0))
}

func (s *Server) handleQueueRunning(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	running := hub.TaskRunning
	writeTaskList(w, s.hub.Registry.ListTasks(hub.TaskFilter{Status: &running}, 0))
}

func writeTaskList(w http.ResponseWriter, tasks []hub.Task) {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

type agentNextResponse struct {
	Empty bool      `json:"empty"`
	Task  *taskView `json:"task,omitempty"`
}

func (s *Server) handleAgentNext(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	agentID := ps.ByName("agent_id")
	t, ok, err := s.hub.ClaimNextTask(agentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, agentNextResponse{Empty: true})
		return
	}
	v := newTaskView(t)
	writeJSON(w, http.StatusOK, agentNextResponse{Empty: false, Task: &v})
}

type completeRequest struct {
	Output          []byte `json:"output"`
	TokensGenerated int    `json:"tokens_generated"`
	ProcessingTime  int64  `json:"processing_time_ms"`
}

func (s *Server) handleAgentComplete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	agentID, taskID := ps.ByName("agent_id"), ps.ByName("task_id")
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed completion body: %s", err)
		return
	}
	result := hub.TaskResult{
		Output:          req.Output,
		TokensGenerated: req.TokensGenerated,
		ProcessingTime:  time.Duration(req.ProcessingTime) * time.Millisecond,
	}
	if err := s.hub.ReportCompletion(taskID, agentID, result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

type failRequest struct {
	ErrorKind hub.FailureKind `json:"error_kind"`
	Message   string          `json:"message"`
}

func (s *Server) handleAgentFail(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	agentID, taskID := ps.ByName("agent_id"), ps.ByName("task_id")
	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed failure body: %s", err)
		return
	}
	if err := s.hub.ReportFailure(taskID, agentID, req.ErrorKind, req.Message); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"failed": true})
}
