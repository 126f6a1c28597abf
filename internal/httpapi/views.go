package httpapi

import (
	"time"

	"github.com/exostack/exohub/hub"
)

// agentView is spec §6's "public fields" projection of an agent record.
type agentView struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	TasksCompleted uint64    `json:"tasks_completed"`
	TasksFailed    uint64    `json:"tasks_failed"`
	CurrentLoad    float64   `json:"current_load"`
	ActiveTasks    int       `json:"active_tasks"`
}

func newAgentView(a hub.Agent) agentView {
	return agentView{
		ID:             a.ID,
		Status:         string(a.Status),
		LastHeartbeat:  a.LastHeartbeat,
		TasksCompleted: a.TasksCompleted,
		TasksFailed:    a.TasksFailed,
		CurrentLoad:    a.CurrentLoad,
		ActiveTasks:    a.ActiveTasks,
	}
}

// taskView is spec §6's task projection: status, model, owner,
// timestamps, result only once terminal.
type taskView struct {
	TaskID       string           `json:"task_id"`
	Model        string           `json:"model"`
	Status       string           `json:"status"`
	Owner        string           `json:"owner,omitempty"`
	Priority     int              `json:"priority"`
	CreatedAt    time.Time        `json:"created_at"`
	AssignedAt   *time.Time       `json:"assigned_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	Result       *hub.TaskResult `json:"result,omitempty"`
}

func newTaskView(t hub.Task) taskView {
	v := taskView{
		TaskID:       t.ID,
		Model:        t.Model,
		Status:       string(t.Status),
		Owner:        t.Owner,
		Priority:     t.Priority,
		CreatedAt:    t.CreatedAt,
		AttemptCount: t.AttemptCount,
	}
	if !t.AssignedAt.IsZero() {
		v.AssignedAt = &t.AssignedAt
	}
	if t.Status.Terminal() {
		if !t.CompletedAt.IsZero() {
			v.CompletedAt = &t.CompletedAt
		}
		v.Result = t.Result
	}
	return v
}
