// Package registry is the single source of truth for agent and task
// records. It follows the teacher's own registry shape
// (harpoon-scheduler/registry.go, harpoon-agent/registry.go): one
// embedded sync.RWMutex guarding every map the component owns, plus a
// handful of atomic multi-field mutations that the scheduler and handoff
// evaluator call instead of reaching into the maps themselves.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
)

// reregisterDebounce is the window within which a re-registration with
// conflicting capabilities is rejected as a StateConflict, rather than
// silently accepted as a capability update (spec §4.1's "debounce
// window").
const reregisterDebounce = 30 * time.Second

// handoffRingSize bounds the retained handoff history (spec §3).
const handoffRingSize = 10000

// Clock is injected so tests can control time without sleeping; it
// defaults to time.Now.
type Clock func() time.Time

// Registry implements spec §4.1. All exported methods are safe for
// concurrent use.
type Registry struct {
	mu sync.RWMutex

	agents map[string]*hub.Agent
	tasks  map[string]*hub.Task
	queue  []string // pending task IDs, kept sorted by (priority, createdAt, id)

	handoffs    []hub.Handoff
	handoffHead int // next write index in the ring, once full

	now Clock
	log logrus.FieldLogger
}

// New constructs an empty registry.
func New(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		agents: map[string]*hub.Agent{},
		tasks:  map[string]*hub.Task{},
		now:    time.Now,
		log:    log.WithField("component", "registry"),
	}
}

// WithClock overrides the registry's time source, for deterministic tests
// (e.g. the liveness monitor's offline-threshold scenarios).
func (r *Registry) WithClock(clock Clock) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = clock
	return r
}

// RegisterOutcome reports whether RegisterAgent created a new record or
// updated an existing one.
type RegisterOutcome string

const (
	Created      RegisterOutcome = "created"
	ReRegistered RegisterOutcome = "re-registered"
)

// RegisterAgent implements spec §4.1. A fresh id creates a new record in
// status registering. A repeat id within the debounce window must declare
// the same capabilities or the call fails with StateConflict; outside the
// window, or with matching capabilities, the agent is re-registered with
// a bumped Generation so in-flight requests from a prior epoch can be
// detected as stale by callers that care to check it.
func (r *Registry) RegisterAgent(id, host string, port int, caps hub.Capabilities) (hub.Agent, RegisterOutcome, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if caps == nil {
		caps = hub.NewCapabilities()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.agents[id]
	if !ok {
		a := &hub.Agent{
			ID:           id,
			Host:         host,
			Port:         port,
			Status:       hub.AgentRegistering,
			Capabilities: caps,
			RegisteredAt: now,
			Generation:   1,
		}
		r.agents[id] = a
		r.log.WithField("agent_id", id).Info("registered")
		return *a, Created, nil
	}

	if now.Sub(existing.RegisteredAt) < reregisterDebounce && !existing.Capabilities.Equal(caps) {
		return hub.Agent{}, "", hub.Errorf(hub.StateConflict,
			"agent %s re-registered within debounce window with conflicting capabilities", id)
	}

	existing.Host = host
	existing.Port = port
	existing.Capabilities = caps
	existing.RegisteredAt = now
	existing.Generation++
	r.log.WithField("agent_id", id).Info("re-registered")
	return *existing, ReRegistered, nil
}

// RecordHeartbeat implements spec §4.1/§4.4. A heartbeat from an offline
// or still-registering agent resurrects/promotes it to online.
func (r *Registry) RecordHeartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown agent %s", id)
	}

	now := r.now()
	if now.Before(a.LastHeartbeat) {
		// Out-of-order heartbeat: dropped per spec §5 ordering guarantee.
		return nil
	}
	a.LastHeartbeat = now
	if a.Status == hub.AgentOffline || a.Status == hub.AgentRegistering {
		r.log.WithField("agent_id", id).Info("agent online")
		a.Status = hub.AgentOnline
	}
	return nil
}

// UpdateLoad implements spec §4.1. Load is clamped to [0,1] and stored;
// the reported active task count is not stored (see below).
func (r *Registry) UpdateLoad(id string, load float64, activeTasks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown agent %s", id)
	}
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	if activeTasks < 0 {
		activeTasks = 0
	}
	a.CurrentLoad = load
	// active_tasks reported by the agent is advisory telemetry; the
	// registry's own tally (incremented/decremented by claim/transition)
	// remains authoritative for invariant 3. We only adopt the caller's
	// value when it's not contradicted by our own bookkeeping, i.e. never:
	// the registry's count always wins. Kept as a parameter for API parity
	// with spec §4.1's signature and ignored beyond validation.
	_ = activeTasks
	return nil
}

// GetAgent returns a copy of the agent record.
func (r *Registry) GetAgent(id string) (hub.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return hub.Agent{}, false
	}
	return *a, true
}

// ListAgents returns copies of every agent matching filter.
func (r *Registry) ListAgents(filter hub.AgentFilter) []hub.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]hub.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		if filter.Match(*a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkOffline transitions an online agent to offline. Used by the
// liveness monitor; it is a no-op (returns false) if the agent is already
// non-online, so repeated sweeps are idempotent.
func (r *Registry) MarkOffline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok || a.Status != hub.AgentOnline {
		return false
	}
	a.Status = hub.AgentOffline
	r.log.WithField("agent_id", id).Warn("agent offline")
	return true
}

// CreateTask implements spec §4.1. Priority is clamped per spec §8.
func (r *Registry) CreateTask(model string, input hub.TaskInput, priority int) (string, error) {
	if model == "" {
		return "", hub.Errorf(hub.InvalidArgument, "model identifier required")
	}
	id := uuid.NewString()
	now := r.now()
	t := &hub.Task{
		ID:        id,
		Model:     model,
		Input:     input,
		Priority:  hub.ClampPriority(priority),
		Status:    hub.TaskPending,
		CreatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = t
	r.enqueueLocked(t)
	return id, nil
}

// enqueueLocked inserts a pending task id into the ordered queue. Callers
// must hold r.mu.
func (r *Registry) enqueueLocked(t *hub.Task) {
	idx := sort.Search(len(r.queue), func(i int) bool {
		return r.queueLess(t, r.queue[i])
	})
	r.queue = append(r.queue, "")
	copy(r.queue[idx+1:], r.queue[idx:])
	r.queue[idx] = t.ID
}

// dequeueLocked removes a task id from the pending queue, if present.
// Callers must hold r.mu. Used when a pending task is cancelled directly,
// without ever being claimed.
func (r *Registry) dequeueLocked(taskID string) {
	for i, id := range r.queue {
		if id == taskID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// queueLess reports whether candidate t sorts before the task at queue
// position identified by id: priority ascending, then creation time
// ascending, then task id lexicographically (spec §4.2).
func (r *Registry) queueLess(t *hub.Task, id string) bool {
	other := r.tasks[id]
	if other == nil {
		return false
	}
	if t.Priority != other.Priority {
		return t.Priority < other.Priority
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID < other.ID
}

// GetTask returns a copy of the task record.
func (r *Registry) GetTask(id string) (hub.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return hub.Task{}, false
	}
	return *t, true
}

// ListTasks returns copies of up to limit tasks matching filter, ordered
// by id for stable pagination-free listing. limit <= 0 means unbounded.
func (r *Registry) ListTasks(filter hub.TaskFilter, limit int) []hub.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]hub.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if filter.Match(*t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// QueueLen returns the number of tasks currently pending, for tests and
// observability.
func (r *Registry) QueueLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queue)
}

// ClaimNextPendingForAgent implements spec §4.1. It atomically verifies
// the agent is online, finds the first queued task whose model the agent
// can serve, and assigns it. Returns ok=false (no error) on an empty or
// unmatched queue.
func (r *Registry) ClaimNextPendingForAgent(agentID string) (hub.Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return hub.Task{}, false, hub.Errorf(hub.NotFound, "unknown agent %s", agentID)
	}
	if a.Status != hub.AgentOnline {
		return hub.Task{}, false, hub.Errorf(hub.Unavailable, "agent %s is not online", agentID)
	}

	for i, id := range r.queue {
		t := r.tasks[id]
		if t == nil || t.Status != hub.TaskPending {
			continue // shouldn't happen, but never hand out a torn entry
		}
		if !a.Capabilities.Supports(t.Model) {
			continue
		}

		r.queue = append(r.queue[:i], r.queue[i+1:]...)
		t.Status = hub.TaskAssigned
		t.Owner = agentID
		t.AssignedAt = r.now()
		a.ActiveTasks++
		return *t, true, nil
	}

	return hub.Task{}, false, nil
}

// TransitionTask implements spec §4.1. Succeeds only if the task's
// current status equals expected. Adjusts the owning agent's active-task
// tally when the transition enters or leaves an active status, preserving
// invariant 3.
func (r *Registry) TransitionTask(taskID string, expected, next hub.TaskStatus, result *hub.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(taskID, "", expected, next, result)
}

// TransitionTaskOwned is TransitionTask with an additional atomic
// ownership check: the caller must name the agent it believes owns the
// task, enforced under the same lock as the status check, so a
// concurrent reassignment can't race a permission check performed on a
// stale read (spec §4.3's authorization requirement).
func (r *Registry) TransitionTaskOwned(taskID, expectedOwner string, expected, next hub.TaskStatus, result *hub.TaskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(taskID, expectedOwner, expected, next, result)
}

func (r *Registry) transitionLocked(taskID, expectedOwner string, expected, next hub.TaskStatus, result *hub.TaskResult) error {
	t, ok := r.tasks[taskID]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if expectedOwner != "" && t.Owner != expectedOwner {
		return hub.Errorf(hub.PermissionDenied, "task %s is not owned by %s", taskID, expectedOwner)
	}
	if t.Status != expected {
		return hub.Errorf(hub.StateConflict, "task %s is %s, not %s", taskID, t.Status, expected)
	}
	if t.Status.Terminal() {
		return hub.Errorf(hub.StateConflict, "task %s is terminal (%s)", taskID, t.Status)
	}

	wasActive := t.Status.Active()
	nowActive := next.Active()
	wasPending := t.Status == hub.TaskPending

	var owner *hub.Agent
	if t.Owner != "" {
		owner = r.agents[t.Owner]
	}

	if wasPending && next != hub.TaskPending {
		r.dequeueLocked(taskID)
	}

	t.Status = next
	if result != nil {
		t.Result = result
	}
	now := r.now()
	switch {
	case next == hub.TaskCompleted, next == hub.TaskFailed, next == hub.TaskCancelled:
		t.CompletedAt = now
	case next == hub.TaskPending:
		t.Owner = ""
		t.AssignedAt = time.Time{}
	}

	if owner != nil {
		if wasActive && !nowActive {
			if owner.ActiveTasks > 0 {
				owner.ActiveTasks--
			}
			switch next {
			case hub.TaskCompleted:
				owner.TasksCompleted++
			case hub.TaskFailed:
				owner.TasksFailed++
			}
		} else if !wasActive && nowActive {
			owner.ActiveTasks++
		}
	}

	return nil
}

// Requeue returns a task to pending with its attempt count incremented,
// preserving priority, used by the scheduler's retry policy and the
// liveness monitor's orphan reclamation. expected is the task's current
// status (assigned, running, or failed-for-retry).
func (r *Registry) Requeue(taskID string, expected hub.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if t.Status != expected {
		return hub.Errorf(hub.StateConflict, "task %s is %s, not %s", taskID, t.Status, expected)
	}

	wasActive := t.Status.Active()
	var owner *hub.Agent
	if t.Owner != "" {
		owner = r.agents[t.Owner]
	}

	t.Status = hub.TaskPending
	t.Owner = ""
	t.AssignedAt = time.Time{}
	t.AttemptCount++
	t.Result = nil
	r.enqueueLocked(t)

	if owner != nil && wasActive && owner.ActiveTasks > 0 {
		owner.ActiveTasks--
	}
	return nil
}

// AgePendingPriority decrements a still-pending task's priority by one,
// clamped at 0, and re-sorts its queue position to match. Used by the
// scheduler's stale-pending sweep (spec §4.2).
func (r *Registry) AgePendingPriority(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if t.Status != hub.TaskPending {
		return hub.Errorf(hub.StateConflict, "task %s is %s, not pending", taskID, t.Status)
	}
	if t.Priority == 0 {
		return nil
	}
	r.dequeueLocked(taskID)
	t.Priority--
	r.enqueueLocked(t)
	return nil
}

// ReassignTask implements spec §4.1's handoff primitive: an atomic move
// of an in-flight task from one online agent to another, bypassing the
// pending queue entirely.
func (r *Registry) ReassignTask(taskID, fromAgent, toAgent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if !t.Status.Active() {
		return hub.Errorf(hub.StateConflict, "task %s is %s, not active", taskID, t.Status)
	}
	if t.Owner != fromAgent {
		return hub.Errorf(hub.StateConflict, "task %s is owned by %s, not %s", taskID, t.Owner, fromAgent)
	}
	to, ok := r.agents[toAgent]
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown agent %s", toAgent)
	}
	if to.Status != hub.AgentOnline {
		return hub.Errorf(hub.Unavailable, "agent %s is not online", toAgent)
	}

	if from := r.agents[fromAgent]; from != nil && from.ActiveTasks > 0 {
		from.ActiveTasks--
	}
	to.ActiveTasks++
	t.Owner = toAgent
	return nil
}

// RecordHandoff appends an entry to the bounded handoff history ring,
// evicting the oldest entry once full. See DESIGN.md for why the caller
// makes this append strictly before it clears the corresponding
// active-handoff bookkeeping (spec §9's ordering fix).
func (r *Registry) RecordHandoff(h hub.Handoff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handoffs) < handoffRingSize {
		r.handoffs = append(r.handoffs, h)
		return
	}
	r.handoffs[r.handoffHead] = h
	r.handoffHead = (r.handoffHead + 1) % handoffRingSize
}

// Handoffs returns a copy of the retained handoff history, oldest first.
func (r *Registry) Handoffs() []hub.Handoff {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.handoffs) < handoffRingSize {
		out := make([]hub.Handoff, len(r.handoffs))
		copy(out, r.handoffs)
		return out
	}
	out := make([]hub.Handoff, 0, handoffRingSize)
	out = append(out, r.handoffs[r.handoffHead:]...)
	out = append(out, r.handoffs[:r.handoffHead]...)
	return out
}

// Now returns the registry's current time source, for callers (the
// liveness monitor) that need to compare against it consistently with
// registry-stamped timestamps.
func (r *Registry) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}
