package liveness

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/notify"
	"github.com/exostack/exohub/internal/registry"
	"github.com/exostack/exohub/internal/scheduler"
)

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(new(discard))
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSweepMarksOfflineAndReclaimsOrphan(t *testing.T) {
	reg := registry.New(discardLog())
	sched := scheduler.New(reg, 3, discardLog())

	agent, _, err := reg.RegisterAgent("a1", "h", 1, hub.NewCapabilities())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.RecordHeartbeat(agent.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	taskID, err := sched.Submit("m", hub.TaskInput{}, hub.DefaultPriority)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, ok, err := sched.ClaimNext(agent.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	base := time.Now()
	reg.WithClock(func() time.Time { return base })

	m := New(reg, sched, notify.New(1, time.Minute), notify.NewBroadcaster(), discardLog(),
		WithOfflineThreshold(10*time.Second))

	reg.WithClock(func() time.Time { return base.Add(time.Minute) })
	m.sweep()

	got, ok := reg.GetAgent(agent.ID)
	if !ok || got.Status != hub.AgentOffline {
		t.Fatalf("agent status = %v, want offline", got.Status)
	}

	task, ok := reg.GetTask(taskID)
	if !ok {
		t.Fatalf("task vanished")
	}
	if task.Status != hub.TaskPending {
		t.Fatalf("task status = %s, want pending after reclaim", task.Status)
	}
	if task.Owner != "" {
		t.Fatalf("task owner = %q, want cleared after reclaim", task.Owner)
	}
}

func TestSweepLeavesRecentHeartbeatOnline(t *testing.T) {
	reg := registry.New(discardLog())
	sched := scheduler.New(reg, 3, discardLog())
	agent, _, _ := reg.RegisterAgent("a1", "h", 1, hub.NewCapabilities())
	reg.RecordHeartbeat(agent.ID)

	m := New(reg, sched, notify.New(1, time.Minute), notify.NewBroadcaster(), discardLog(),
		WithOfflineThreshold(time.Hour))
	m.sweep()

	got, _ := reg.GetAgent(agent.ID)
	if got.Status != hub.AgentOnline {
		t.Fatalf("status = %s, want online", got.Status)
	}
}

func TestRunAndStop(t *testing.T) {
	reg := registry.New(discardLog())
	sched := scheduler.New(reg, 3, discardLog())
	m := New(reg, sched, notify.New(1, time.Minute), notify.NewBroadcaster(), discardLog(),
		WithInterval(5*time.Millisecond))
	m.Run()
	time.Sleep(20 * time.Millisecond)
	m.Stop()
}
