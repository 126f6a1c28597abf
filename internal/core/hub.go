// Package core wires the registry, scheduler, notification queues and
// event broadcaster, handoff evaluator, liveness monitor, and telemetry
// into the single Hub facade the dispatch API and the HTTP adapter call
// through — the same composition role the teacher's basicScheduler plays
// over a registry and an agentStater, just one layer further out since
// this hub composes six collaborators instead of two. Named core, not hub, purely to avoid an import cycle: the
// hub package is the dependency-free vocabulary every component below
// imports, so the facade that sits above all of them can't also live
// there.
package core

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/handoffeval"
	"github.com/exostack/exohub/internal/liveness"
	"github.com/exostack/exohub/internal/notify"
	"github.com/exostack/exohub/internal/registry"
	"github.com/exostack/exohub/internal/scheduler"
	"github.com/exostack/exohub/internal/telemetry"
)

// Hub composes every coordination component into spec §4.3's dispatch
// API. It holds no locks of its own: every mutation it exposes
// delegates straight to the registry, which owns all real concurrency
// control.
type Hub struct {
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Notify    *notify.Queues
	Events    *notify.Broadcaster
	Handoff   *handoffeval.Evaluator
	Liveness  *liveness.Monitor
	Metrics   *telemetry.Metrics

	log logrus.FieldLogger
}

// Options configures New.
type Options struct {
	MaxAttempts           int
	OfflineThreshold      time.Duration
	StalePendingThreshold time.Duration
	SweepInterval         time.Duration
	NotificationCapacity  int
	NotificationTTL       time.Duration
}

// New constructs a fully wired Hub. It does not start the liveness
// sweep; call Start for that.
func New(opts Options, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}

	metrics := telemetry.New()
	reg := registry.New(log)
	sched := scheduler.New(reg, opts.MaxAttempts, log).WithMetrics(metrics)
	queues := notify.New(opts.NotificationCapacity, opts.NotificationTTL)
	events := notify.NewBroadcaster()
	ev := handoffeval.New(reg, log).WithMetrics(metrics).WithNotify(queues)

	mon := liveness.New(reg, sched, queues, events, log,
		liveness.WithInterval(opts.SweepInterval),
		liveness.WithOfflineThreshold(opts.OfflineThreshold),
		liveness.WithStalePendingThreshold(opts.StalePendingThreshold),
	).WithMetrics(metrics)

	return &Hub{
		Registry:  reg,
		Scheduler: sched,
		Notify:    queues,
		Events:    events,
		Handoff:   ev,
		Liveness:  mon,
		Metrics:   metrics,
		log:       log.WithField("component", "hub"),
	}
}

// Start begins the background liveness sweep.
func (h *Hub) Start() { h.Liveness.Run() }

// Stop ends the background liveness sweep.
func (h *Hub) Stop() { h.Liveness.Stop() }

// SubmitTask implements spec §4.3's task submission, publishing an
// observability event and pushing a wakeup notification under
// broadcastTarget, whatever the task's model: it wakes the WaitForWork
// caller blocked there, if any, or else stays queued under that key.
func (h *Hub) SubmitTask(model string, input hub.TaskInput, priority int) (string, error) {
	id, err := h.Scheduler.Submit(model, input, priority)
	if err != nil {
		return "", err
	}
	h.Events.Publish(notify.Event{Kind: "task_submitted", TaskID: id, At: h.Registry.Now()})
	h.Notify.Push(broadcastTarget, notify.Notification{TaskID: id, Model: model})
	return id, nil
}

// broadcastTarget is the well-known notification-queue key used for
// "new work was submitted", as opposed to a specific agent id. Agents
// that want push wakeups wait under this key via WaitForWork; the
// queue holds one waiter per key, so a later waiter replaces an
// earlier one.
const broadcastTarget = "*"

// WaitForWork blocks until a task-submission notification is available
// under broadcastTarget, or timeout elapses. It consumes that one
// notification; neither agentID nor the task's model is consulted.
// Callers still need to ClaimNextTask afterward — this is a wakeup hint
// only.
func (h *Hub) WaitForWork(agentID string, timeout time.Duration) {
	h.Notify.Wait(broadcastTarget, timeout)
}

// ClaimNextTask implements spec §4.3.
func (h *Hub) ClaimNextTask(agentID string) (hub.Task, bool, error) {
	t, ok, err := h.Scheduler.ClaimNext(agentID)
	if err == nil && ok {
		h.Events.Publish(notify.Event{Kind: "task_claimed", TaskID: t.ID, AgentID: agentID, At: h.Registry.Now()})
	}
	return t, ok, err
}

// ReportCompletion implements spec §4.3.
func (h *Hub) ReportCompletion(taskID, agentID string, result hub.TaskResult) error {
	if err := h.Scheduler.ReportCompletion(taskID, agentID, result); err != nil {
		return err
	}
	h.Events.Publish(notify.Event{Kind: "task_completed", TaskID: taskID, AgentID: agentID, At: h.Registry.Now()})
	return nil
}

// ReportFailure implements spec §4.3.
func (h *Hub) ReportFailure(taskID, agentID string, kind hub.FailureKind, message string) error {
	if err := h.Scheduler.ReportFailure(taskID, agentID, kind, message); err != nil {
		return err
	}
	h.Events.Publish(notify.Event{Kind: "task_failed", TaskID: taskID, AgentID: agentID, At: h.Registry.Now(), Detail: string(kind)})
	return nil
}

// CancelTask implements spec §4.3.
func (h *Hub) CancelTask(taskID string) error {
	if err := h.Scheduler.Cancel(taskID); err != nil {
		return err
	}
	h.Events.Publish(notify.Event{Kind: "task_cancelled", TaskID: taskID, At: h.Registry.Now()})
	return nil
}

// RegisterAgent implements spec §4.3.
func (h *Hub) RegisterAgent(id, hostAddr string, port int, caps hub.Capabilities) (hub.Agent, registry.RegisterOutcome, error) {
	a, outcome, err := h.Registry.RegisterAgent(id, hostAddr, port, caps)
	if err != nil {
		return hub.Agent{}, "", err
	}
	h.Events.Publish(notify.Event{Kind: "agent_registered", AgentID: a.ID, At: h.Registry.Now(), Detail: string(outcome)})
	return a, outcome, nil
}

// Heartbeat implements spec §4.3.
func (h *Hub) Heartbeat(agentID string) error {
	return h.Registry.RecordHeartbeat(agentID)
}

// EvaluateHandoff implements spec §4.3's EvaluateHandoff(agent_id,
// task_id) -> suggested_peer_id | none: it recommends the single best
// viable handoff target without executing anything, for diagnostic and
// preview callers.
func (h *Hub) EvaluateHandoff(taskID string) (hub.Agent, bool, error) {
	t, ok := h.Registry.GetTask(taskID)
	if !ok {
		return hub.Agent{}, false, hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	agent, ok := h.Handoff.SelectCandidate(t)
	return agent, ok, nil
}

// ExecuteHandoff implements spec §4.3/§4.5.
func (h *Hub) ExecuteHandoff(taskID string) (hub.Agent, error) {
	target, err := h.Handoff.ExecuteHandoff(taskID)
	if err != nil {
		return hub.Agent{}, err
	}
	h.Events.Publish(notify.Event{Kind: "task_handed_off", TaskID: taskID, AgentID: target.ID, At: h.Registry.Now()})
	return target, nil
}
