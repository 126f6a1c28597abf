// Package scheduler implements the retry and admission policy layered on
// top of the registry: submitting tasks, claiming work, and resolving
// completion/failure reports into the correct registry transition. All
// concurrency control lives in the registry; the scheduler is a thin,
// lock-free policy layer above it, the same division of labor the
// teacher's basicScheduler has with its registryPublic.
package scheduler

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/registry"
	"github.com/exostack/exohub/internal/telemetry"
)

// DefaultMaxAttempts bounds retries before a transiently-failing task is
// given up on and marked failed (spec §7).
const DefaultMaxAttempts = 3

// Scheduler implements spec §4.2.
type Scheduler struct {
	reg         *registry.Registry
	maxAttempts int
	log         logrus.FieldLogger
	metrics     *telemetry.Metrics
}

// New constructs a Scheduler over reg. maxAttempts <= 0 uses
// DefaultMaxAttempts.
func New(reg *registry.Registry, maxAttempts int, log logrus.FieldLogger) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{reg: reg, maxAttempts: maxAttempts, log: log.WithField("component", "scheduler")}
}

// WithMetrics attaches telemetry counters, incremented as the scheduler
// resolves submissions, claims, completions, failures, and retries.
func (s *Scheduler) WithMetrics(m *telemetry.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Submit admits a new task into the pending queue.
func (s *Scheduler) Submit(model string, input hub.TaskInput, priority int) (string, error) {
	id, err := s.reg.CreateTask(model, input, priority)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"task_id": id, "model": model}).Info("task submitted")
	if s.metrics != nil {
		s.metrics.IncTasksSubmitted()
		s.metrics.SetQueueDepth(s.reg.QueueLen())
	}
	return id, nil
}

// ClaimNext hands the given agent the next pending task it's capable of
// running, if any.
func (s *Scheduler) ClaimNext(agentID string) (hub.Task, bool, error) {
	t, ok, err := s.reg.ClaimNextPendingForAgent(agentID)
	if err != nil || !ok {
		return hub.Task{}, ok, err
	}
	s.log.WithFields(logrus.Fields{"task_id": t.ID, "agent_id": agentID}).Info("task claimed")
	if s.metrics != nil {
		s.metrics.IncTasksClaimed()
		s.metrics.SetQueueDepth(s.reg.QueueLen())
	}
	return t, true, nil
}

// ReportCompletion resolves a successful completion report. It is
// idempotent: repeating an identical report against an already-completed
// task succeeds silently (spec §4.2/§8).
func (s *Scheduler) ReportCompletion(taskID, agentID string, result hub.TaskResult) error {
	t, ok := s.reg.GetTask(taskID)
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if t.Status == hub.TaskCompleted {
		if t.Owner == agentID && t.Result.Equal(&result) {
			return nil
		}
		return hub.Errorf(hub.StateConflict, "task %s already completed with a different result", taskID)
	}
	if err := s.reg.TransitionTaskOwned(taskID, agentID, t.Status, hub.TaskCompleted, &result); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"task_id": taskID, "agent_id": agentID}).Info("task completed")
	if s.metrics != nil {
		s.metrics.IncTasksCompleted()
	}
	return nil
}

// classification is spec §4.2's transient/permanent failure taxonomy.
type classification string

const (
	transient classification = "transient"
	permanent classification = "permanent"
)

func classify(kind hub.FailureKind) classification {
	if kind.Transient() {
		return transient
	}
	return permanent
}

// ReportFailure resolves a failure report. Transient failures are
// retried (requeued with a bumped attempt count) up to maxAttempts;
// permanent failures, and transient failures that have exhausted their
// retry budget, are recorded as a terminal failure.
func (s *Scheduler) ReportFailure(taskID, agentID string, kind hub.FailureKind, message string) error {
	t, ok := s.reg.GetTask(taskID)
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if t.Owner != agentID {
		return hub.Errorf(hub.PermissionDenied, "task %s is not owned by %s", taskID, agentID)
	}
	if t.Status.Terminal() {
		return hub.Errorf(hub.StateConflict, "task %s is already %s", taskID, t.Status)
	}

	result := &hub.TaskResult{ErrorKind: kind, Message: message}

	if classify(kind) == transient && t.AttemptCount+1 < s.maxAttempts {
		if err := s.reg.Requeue(taskID, t.Status); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"task_id": taskID, "agent_id": agentID, "kind": kind, "attempt": t.AttemptCount + 1,
		}).Warn("task failed transiently, requeued")
		if s.metrics != nil {
			s.metrics.IncTasksRequeued()
			s.metrics.SetQueueDepth(s.reg.QueueLen())
		}
		return nil
	}

	if err := s.reg.TransitionTaskOwned(taskID, agentID, t.Status, hub.TaskFailed, result); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"task_id": taskID, "agent_id": agentID, "kind": kind}).Error("task failed permanently")
	if s.metrics != nil {
		s.metrics.IncTasksFailed()
	}
	return nil
}

// Cancel implements spec §4.2's cancellation: allowed from pending,
// assigned, or running; a no-op error on an already-terminal task.
func (s *Scheduler) Cancel(taskID string) error {
	t, ok := s.reg.GetTask(taskID)
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if t.Status.Terminal() {
		return hub.Errorf(hub.StateConflict, "task %s is already %s", taskID, t.Status)
	}
	return s.reg.TransitionTask(taskID, t.Status, hub.TaskCancelled, nil)
}

// ReclaimOrphan requeues a task left behind by an agent that went
// offline, called by the liveness monitor once per orphaned task.
func (s *Scheduler) ReclaimOrphan(taskID string) error {
	t, ok := s.reg.GetTask(taskID)
	if !ok {
		return hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if !t.Status.Active() {
		return nil
	}
	if err := s.reg.Requeue(taskID, t.Status); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"task_id": taskID, "agent_id": t.Owner}).Warn("orphaned task reclaimed")
	return nil
}

// SweepStalePending ages pending tasks older than threshold by
// decrementing their effective priority by one, clamped at 0, so they
// eventually surface ahead of a steady stream of higher-priority
// newcomers (spec §4.2's stale_pending_threshold rule). Returns the
// number of tasks aged.
func (s *Scheduler) SweepStalePending(threshold time.Duration) int {
	now := s.reg.Now()
	pending := hub.TaskPending
	tasks := s.reg.ListTasks(hub.TaskFilter{Status: &pending}, 0)
	aged := 0
	for _, t := range tasks {
		if now.Sub(t.CreatedAt) < threshold {
			continue
		}
		if err := s.reg.AgePendingPriority(t.ID); err == nil {
			aged++
		}
	}
	if aged > 0 {
		s.log.WithField("count", aged).Debug("aged stale pending tasks")
	}
	return aged
}
