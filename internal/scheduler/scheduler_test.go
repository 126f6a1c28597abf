package scheduler

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/registry"
)

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(new(discard))
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newAgent(t *testing.T, reg *registry.Registry, id string) hub.Agent {
	t.Helper()
	a, _, err := reg.RegisterAgent(id, "h", 1, hub.NewCapabilities())
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if err := reg.RecordHeartbeat(id); err != nil {
		t.Fatalf("heartbeat %s: %v", id, err)
	}
	return a
}

func TestReportFailureRetriesTransientThenGivesUp(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 2, discardLog())
	agent := newAgent(t, reg, "a1")

	taskID, err := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	claimed, ok, err := sched.ClaimNext(agent.ID)
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if claimed.ID != taskID {
		t.Fatalf("claimed %s, want %s", claimed.ID, taskID)
	}

	// First transient failure: requeued (maxAttempts=2, attempt 0 -> 1 < 2).
	if err := sched.ReportFailure(taskID, agent.ID, hub.FailureTimeout, "timed out"); err != nil {
		t.Fatalf("first failure: %v", err)
	}
	task, _ := reg.GetTask(taskID)
	if task.Status != hub.TaskPending {
		t.Fatalf("status = %s, want pending after first transient failure", task.Status)
	}
	if task.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", task.AttemptCount)
	}

	claimed2, ok, err := sched.ClaimNext(agent.ID)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}

	// Second transient failure: attempt 1 -> 2, not < maxAttempts(2), so
	// it's given up on and marked failed.
	if err := sched.ReportFailure(claimed2.ID, agent.ID, hub.FailureTimeout, "timed out again"); err != nil {
		t.Fatalf("second failure: %v", err)
	}
	task, _ = reg.GetTask(taskID)
	if task.Status != hub.TaskFailed {
		t.Fatalf("status = %s, want failed after exhausting retries", task.Status)
	}
}

func TestReportFailurePermanentNeverRetries(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 5, discardLog())
	agent := newAgent(t, reg, "a1")

	taskID, _ := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	sched.ClaimNext(agent.ID)

	if err := sched.ReportFailure(taskID, agent.ID, hub.FailureInvalidInput, "bad prompt"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	task, _ := reg.GetTask(taskID)
	if task.Status != hub.TaskFailed {
		t.Fatalf("status = %s, want failed for a permanent failure kind", task.Status)
	}
}

func TestReportFailureWrongOwnerDenied(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 3, discardLog())
	agent := newAgent(t, reg, "a1")

	taskID, _ := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	sched.ClaimNext(agent.ID)

	err := sched.ReportFailure(taskID, "someone-else", hub.FailureTimeout, "x")
	if !hub.IsKind(err, hub.PermissionDenied) {
		t.Fatalf("err = %v, want PermissionDenied", err)
	}
}

func TestReportCompletionIsIdempotent(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 3, discardLog())
	agent := newAgent(t, reg, "a1")

	taskID, _ := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	sched.ClaimNext(agent.ID)

	result := hub.TaskResult{Output: []byte("done"), TokensGenerated: 42}
	if err := sched.ReportCompletion(taskID, agent.ID, result); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := sched.ReportCompletion(taskID, agent.ID, result); err != nil {
		t.Fatalf("repeat identical completion should succeed: %v", err)
	}

	different := hub.TaskResult{Output: []byte("other")}
	if err := sched.ReportCompletion(taskID, agent.ID, different); !hub.IsKind(err, hub.StateConflict) {
		t.Fatalf("err = %v, want StateConflict for a conflicting repeat", err)
	}
}

func TestCancelFromEachNonTerminalStatus(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 3, discardLog())

	pendingID, _ := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	if err := sched.Cancel(pendingID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if reg.QueueLen() != 0 {
		t.Fatalf("queue len = %d, want 0 after cancelling the only pending task", reg.QueueLen())
	}

	agent := newAgent(t, reg, "a1")
	runningID, _ := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	sched.ClaimNext(agent.ID)
	if err := sched.Cancel(runningID); err != nil {
		t.Fatalf("cancel assigned: %v", err)
	}

	if err := sched.Cancel(runningID); !hub.IsKind(err, hub.StateConflict) {
		t.Fatalf("err = %v, want StateConflict cancelling an already-terminal task", err)
	}
}

func TestSweepStalePendingAgesPriority(t *testing.T) {
	reg := registry.New(discardLog())
	sched := New(reg, 3, discardLog())

	base := time.Now()
	reg.WithClock(func() time.Time { return base })
	taskID, _ := sched.Submit("m", hub.TaskInput{}, 5)

	reg.WithClock(func() time.Time { return base.Add(time.Hour) })
	aged := sched.SweepStalePending(10 * time.Minute)
	if aged != 1 {
		t.Fatalf("aged = %d, want 1", aged)
	}

	task, _ := reg.GetTask(taskID)
	if task.Priority != 4 {
		t.Fatalf("priority = %d, want 4 after aging", task.Priority)
	}
}
