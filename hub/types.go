// Package hub defines the domain types shared by the registry, scheduler,
// liveness monitor, handoff evaluator, and the HTTP adapter that exposes
// them. It plays the role the teacher's harpoon-agent/lib package plays:
// a dependency-free vocabulary that every other package imports.
package hub

import (
	"sort"
	"strings"
	"time"
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentRegistering AgentStatus = "registering"
	AgentOnline      AgentStatus = "online"
	AgentDraining    AgentStatus = "draining"
	AgentOffline     AgentStatus = "offline"
)

// TaskStatus is the lifecycle state of a task record. completed, failed,
// and cancelled are absorbing: the registry refuses every transition out
// of them.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a status accepts no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a task in this status counts against an agent's
// active-task tally.
func (s TaskStatus) Active() bool {
	return s == TaskAssigned || s == TaskRunning
}

// HandoffOutcome is the terminal disposition of a handoff attempt.
type HandoffOutcome string

const (
	HandoffPending   HandoffOutcome = "pending"
	HandoffCompleted HandoffOutcome = "completed"
	HandoffFailed    HandoffOutcome = "failed"
)

// FailureKind classifies an agent-reported task failure for retry
// purposes. It is distinct from ErrorKind: ErrorKind describes what the
// API boundary returns to a caller, FailureKind describes why inference
// itself didn't complete.
type FailureKind string

const (
	FailureUnavailable       FailureKind = "unavailable"
	FailureTimeout           FailureKind = "timeout"
	FailureResourceExhausted FailureKind = "resource_exhausted"
	FailureInvalidInput      FailureKind = "invalid_input"
	FailureModelNotFound     FailureKind = "model_not_found"
)

// Transient reports whether the scheduler should retry a task that failed
// with this kind (spec §7: only transient failures are retried).
func (k FailureKind) Transient() bool {
	switch k {
	case FailureUnavailable, FailureTimeout, FailureResourceExhausted:
		return true
	default:
		return false
	}
}

// Capabilities is the set of model identifiers an agent declares support
// for. An empty set means "any" (universal capability), matching spec
// §3's "empty set means any" rule — represented as a real type instead of
// an implicit nil-map convention so every caller checks Supports/Universal
// instead of re-deriving the empty-means-any rule inline.
type Capabilities map[string]struct{}

// NewCapabilities builds a capability set from model identifiers. No
// arguments produces a universal set.
func NewCapabilities(models ...string) Capabilities {
	c := make(Capabilities, len(models))
	for _, m := range models {
		c[m] = struct{}{}
	}
	return c
}

// Universal reports whether this capability set accepts any model.
func (c Capabilities) Universal() bool { return len(c) == 0 }

// Supports reports whether this capability set accepts the given model.
func (c Capabilities) Supports(model string) bool {
	if c.Universal() {
		return true
	}
	_, ok := c[model]
	return ok
}

// Equal reports whether two capability sets declare the same models.
func (c Capabilities) Equal(other Capabilities) bool {
	if len(c) != len(other) {
		return false
	}
	for m := range c {
		if _, ok := other[m]; !ok {
			return false
		}
	}
	return true
}

// Slice returns the declared models in sorted order, for stable JSON
// encoding and logging.
func (c Capabilities) Slice() []string {
	out := make([]string, 0, len(c))
	for m := range c {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (c Capabilities) String() string {
	if c.Universal() {
		return "any"
	}
	return strings.Join(c.Slice(), ",")
}

// Agent is the registry's record of a worker node. It's created on first
// registration and retained (even once offline) so its cumulative
// counters survive restarts — only administrative action destroys it.
type Agent struct {
	ID             string
	Host           string
	Port           int
	Status         AgentStatus
	Capabilities   Capabilities
	LastHeartbeat  time.Time
	RegisteredAt   time.Time
	Generation     uint64
	CurrentLoad    float64
	ActiveTasks    int
	TasksCompleted uint64
	TasksFailed    uint64
}

// HasEndpoint reports whether the agent declared a reachable host:port for
// direct push delivery.
func (a Agent) HasEndpoint() bool { return a.Host != "" && a.Port != 0 }

// SuccessRate returns completed/(completed+failed), or 0 when the agent
// has no terminal history yet.
func (a Agent) SuccessRate() float64 {
	total := a.TasksCompleted + a.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(a.TasksCompleted) / float64(total)
}

// TaskInput is the tagged payload a client submits: the core reads only
// the content type, the rest is opaque bytes handed unexamined to the
// inference executor.
type TaskInput struct {
	ContentType string `json:"content_type"`
	Payload     []byte `json:"payload"`
}

// TaskResult carries either a successful output or a failure reason.
// Exactly one of the two halves is populated, selected by the owning
// Task's Status.
type TaskResult struct {
	Output          []byte        `json:"output,omitempty"`
	TokensGenerated int           `json:"tokens_generated,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time,omitempty"`

	ErrorKind FailureKind `json:"error_kind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Equal reports whether two results are identical, used to make
// ReportCompletion idempotent: repeating a completion report with an
// identical result succeeds, a conflicting one does not.
func (r *TaskResult) Equal(other *TaskResult) bool {
	if r == nil || other == nil {
		return r == other
	}
	return string(r.Output) == string(other.Output) &&
		r.TokensGenerated == other.TokensGenerated &&
		r.ProcessingTime == other.ProcessingTime &&
		r.ErrorKind == other.ErrorKind &&
		r.Message == other.Message
}

// Task is the registry's record of a unit of inference work.
type Task struct {
	ID           string
	Model        string
	Input        TaskInput
	Priority     int
	Status       TaskStatus
	Owner        string // agent id; empty when unowned
	CreatedAt    time.Time
	AssignedAt   time.Time
	CompletedAt  time.Time
	AttemptCount int
	Result       *TaskResult
}

// ClampPriority enforces spec §3/§8's [0,9] clamp, default 5.
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 9 {
		return 9
	}
	return p
}

// DefaultPriority is used when a client omits a priority.
const DefaultPriority = 5

// Handoff is an append-only record of a task reassignment attempt.
type Handoff struct {
	TaskID      string
	FromAgent   string
	ToAgent     string
	InitiatedAt time.Time
	Outcome     HandoffOutcome
	CompletedAt time.Time
}

// AgentFilter narrows ListAgents results. A zero-value filter matches all
// agents.
type AgentFilter struct {
	Status *AgentStatus
}

// Match reports whether an agent satisfies the filter.
func (f AgentFilter) Match(a Agent) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status *TaskStatus
	Model  string
	Owner  string
}

// Match reports whether a task satisfies the filter.
func (f TaskFilter) Match(t Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Model != "" && t.Model != f.Model {
		return false
	}
	if f.Owner != "" && t.Owner != f.Owner {
		return false
	}
	return true
}
