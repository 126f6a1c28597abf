package handoffeval

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/notify"
	"github.com/exostack/exohub/internal/registry"
)

func discardLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(new(discard))
	return l
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func onlineAgent(t *testing.T, reg *registry.Registry, id string, caps hub.Capabilities) hub.Agent {
	t.Helper()
	a, _, err := reg.RegisterAgent(id, "h", 1, caps)
	require.NoError(t, err)
	require.NoError(t, reg.RecordHeartbeat(id))
	return a
}

func TestScorePrefersLowLoadHighCapacityReliableCapableAgent(t *testing.T) {
	idle := hub.Agent{CurrentLoad: 0, ActiveTasks: 0, TasksCompleted: 10, Capabilities: hub.NewCapabilities("llama")}
	busy := hub.Agent{CurrentLoad: 0.9, ActiveTasks: 8, TasksCompleted: 1, TasksFailed: 9, Capabilities: hub.NewCapabilities("llama")}

	require.Greater(t, score(idle, "llama"), score(busy, "llama"))
}

func TestScoreCapabilityBonusOnlyWhenSupported(t *testing.T) {
	universal := hub.Agent{Capabilities: hub.NewCapabilities()}
	narrow := hub.Agent{Capabilities: hub.NewCapabilities("mistral")}

	require.Equal(t, score(universal, "llama")-20, score(narrow, "llama"))
}

func TestCandidatesExcludesOwnerAndOffline(t *testing.T) {
	reg := registry.New(discardLog())
	owner := onlineAgent(t, reg, "owner", hub.NewCapabilities())
	onlineAgent(t, reg, "peer", hub.NewCapabilities())
	reg.RegisterAgent("offline-peer", "h", 1, hub.NewCapabilities()) // never heartbeats -> stays "registering"

	ev := New(reg, discardLog())
	candidates := ev.Candidates("llama", owner.ID)

	require.Len(t, candidates, 1)
	require.Equal(t, "peer", candidates[0].Agent.ID)
}

func TestCandidatesExcludesIneligibleByLoadOrActiveTasks(t *testing.T) {
	reg := registry.New(discardLog())
	owner := onlineAgent(t, reg, "owner", hub.NewCapabilities())
	overloaded := onlineAgent(t, reg, "overloaded", hub.NewCapabilities())
	reg.UpdateLoad(overloaded.ID, 0.9, 0)
	onlineAgent(t, reg, "fine", hub.NewCapabilities())

	ev := New(reg, discardLog())
	candidates := ev.Candidates("llama", owner.ID)

	require.Len(t, candidates, 1)
	require.Equal(t, "fine", candidates[0].Agent.ID)
}

func TestExecuteHandoffReassignsAndRecordsHistory(t *testing.T) {
	reg := registry.New(discardLog())
	owner := onlineAgent(t, reg, "owner", hub.NewCapabilities())
	onlineAgent(t, reg, "peer", hub.NewCapabilities())

	taskID, err := reg.CreateTask("llama", hub.TaskInput{}, hub.DefaultPriority)
	require.NoError(t, err)
	_, ok, err := reg.ClaimNextPendingForAgent(owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ev := New(reg, discardLog())
	target, err := ev.ExecuteHandoff(taskID)
	require.NoError(t, err)
	require.Equal(t, "peer", target.ID)

	task, ok := reg.GetTask(taskID)
	require.True(t, ok)
	require.Equal(t, "peer", task.Owner)

	history := reg.Handoffs()
	require.Len(t, history, 1)
	require.Equal(t, hub.HandoffCompleted, history[0].Outcome)
	require.Equal(t, "owner", history[0].FromAgent)
	require.Equal(t, "peer", history[0].ToAgent)

	require.Equal(t, 0, ev.ActiveCount(), "handoff must not remain marked active after history is recorded")
}

// TestExecuteHandoffDeliversNotificationToNewOwner registers the peer
// with no endpoint (host/port left unset, unlike onlineAgent's fixed
// "h":1) so delivery deterministically exercises the queue-fallback
// tier without attempting a real network call.
func TestExecuteHandoffDeliversNotificationToNewOwner(t *testing.T) {
	reg := registry.New(discardLog())
	owner := onlineAgent(t, reg, "owner", hub.NewCapabilities())
	peer, _, err := reg.RegisterAgent("peer", "", 0, hub.NewCapabilities())
	require.NoError(t, err)
	require.NoError(t, reg.RecordHeartbeat(peer.ID))

	taskID, err := reg.CreateTask("llama", hub.TaskInput{}, hub.DefaultPriority)
	require.NoError(t, err)
	_, ok, err := reg.ClaimNextPendingForAgent(owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	queues := notify.New(8, time.Minute)
	ev := New(reg, discardLog()).WithNotify(queues)
	target, err := ev.ExecuteHandoff(taskID)
	require.NoError(t, err)
	require.Equal(t, "peer", target.ID)

	require.Equal(t, 1, queues.Len(peer.ID))
	n, ok := queues.Wait(peer.ID, time.Millisecond)
	require.True(t, ok)
	require.Equal(t, taskID, n.TaskID)
	require.Equal(t, "llama", n.Model)
}

func TestExecuteHandoffFailsWithNoViableCandidate(t *testing.T) {
	reg := registry.New(discardLog())
	owner := onlineAgent(t, reg, "owner", hub.NewCapabilities())

	taskID, err := reg.CreateTask("llama", hub.TaskInput{}, hub.DefaultPriority)
	require.NoError(t, err)
	_, ok, err := reg.ClaimNextPendingForAgent(owner.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ev := New(reg, discardLog())
	_, err = ev.ExecuteHandoff(taskID)
	require.Error(t, err)
	require.True(t, hub.IsKind(err, hub.Unavailable))

	history := reg.Handoffs()
	require.Len(t, history, 1)
	require.Equal(t, hub.HandoffFailed, history[0].Outcome)
	require.Equal(t, 0, ev.ActiveCount())
}

func TestExecuteHandoffRejectsInactiveTask(t *testing.T) {
	reg := registry.New(discardLog())
	taskID, err := reg.CreateTask("llama", hub.TaskInput{}, hub.DefaultPriority)
	require.NoError(t, err)

	ev := New(reg, discardLog())
	_, err = ev.ExecuteHandoff(taskID)
	require.True(t, hub.IsKind(err, hub.StateConflict))
}
