// Package handoffeval implements the peer-to-peer handoff evaluator:
// scoring candidate agents for taking over an in-flight task from a
// struggling peer, and executing the handoff. The scoring weights and
// the >50 viability threshold are grounded in
// original_source/exo_hub/services/p2p_handoff_manager.py.
package handoffeval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/notify"
	"github.com/exostack/exohub/internal/registry"
	"github.com/exostack/exohub/internal/telemetry"
)

// directPushTimeout bounds how long ExecuteHandoff waits on a direct
// HTTP delivery to the new owner before falling back to its
// pending-notification queue, grounded in
// original_source/exo_hub/services/p2p_handoff_manager.py's
// requests.post(..., timeout=10).
const directPushTimeout = 10 * time.Second

var directPushClient = &http.Client{Timeout: directPushTimeout}

// Threshold is the minimum combined score a candidate must reach to be
// considered a viable handoff target (spec §4.5/S5).
const Threshold = 50

// Candidate is a scored handoff target, returned for observability and
// testing; only the highest Score above Threshold is ever acted on.
type Candidate struct {
	Agent hub.Agent
	Score int
}

// Evaluator implements spec §4.5.
type Evaluator struct {
	reg *registry.Registry
	log logrus.FieldLogger

	mu      sync.Mutex
	active  map[string]hub.Handoff // task id -> in-flight handoff
	metrics *telemetry.Metrics
	notify  *notify.Queues
}

// WithMetrics attaches telemetry counters, incremented on every handoff
// attempt and successful completion.
func (e *Evaluator) WithMetrics(m *telemetry.Metrics) *Evaluator {
	e.metrics = m
	return e
}

// WithNotify attaches the pending-notification queues ExecuteHandoff
// delivers into when the new owner can't be reached directly. Without
// it, ExecuteHandoff reassigns ownership but notifies nobody.
func (e *Evaluator) WithNotify(q *notify.Queues) *Evaluator {
	e.notify = q
	return e
}

// New constructs an Evaluator over reg.
func New(reg *registry.Registry, log logrus.FieldLogger) *Evaluator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Evaluator{
		reg:    reg,
		log:    log.WithField("component", "handoffeval"),
		active: map[string]hub.Handoff{},
	}
}

// score computes the deterministic integer-weighted viability score for
// candidate taking over a task requiring model: load (<=40, lower
// current load scores higher), capacity (<=50, via
// max(0, 5-active_tasks)*10), reliability (<=30, success rate scaled),
// and capability (exactly 20 if the candidate supports the model or is
// universal, 0 otherwise).
func score(candidate hub.Agent, model string) int {
	loadScore := int((1 - candidate.CurrentLoad) * 40)
	if loadScore < 0 {
		loadScore = 0
	}

	capacityScore := 5 - candidate.ActiveTasks
	if capacityScore < 0 {
		capacityScore = 0
	}
	capacityScore *= 10

	reliabilityScore := int(candidate.SuccessRate() * 30)

	capabilityScore := 0
	if candidate.Capabilities.Universal() || candidate.Capabilities.Supports(model) {
		capabilityScore = 20
	}

	return loadScore + capacityScore + reliabilityScore + capabilityScore
}

// EligibleLoadCeiling and EligibleActiveTasksCeiling are the eligibility
// pre-filter spec §4.5 applies before scoring: a candidate must be
// under both ceilings to be considered at all.
const (
	EligibleLoadCeiling        = 0.7
	EligibleActiveTasksCeiling = 3
)

func eligible(a hub.Agent) bool {
	return a.CurrentLoad < EligibleLoadCeiling && a.ActiveTasks < EligibleActiveTasksCeiling
}

// Candidates scores every online, eligible agent other than excludeAgent
// as a handoff target for model, sorted by descending score then
// ascending agent id for determinism.
func (e *Evaluator) Candidates(model, excludeAgent string) []Candidate {
	online := hub.AgentOnline
	agents := e.reg.ListAgents(hub.AgentFilter{Status: &online})

	out := make([]Candidate, 0, len(agents))
	for _, a := range agents {
		if a.ID == excludeAgent {
			continue
		}
		if !eligible(a) {
			continue
		}
		out = append(out, Candidate{Agent: a, Score: score(a, model)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Agent.ID < out[j].Agent.ID
	})
	return out
}

// SelectCandidate returns the single best viable handoff target for
// task, or ok=false if no online agent clears Threshold.
func (e *Evaluator) SelectCandidate(task hub.Task) (hub.Agent, bool) {
	candidates := e.Candidates(task.Model, task.Owner)
	if len(candidates) == 0 || candidates[0].Score <= Threshold {
		return hub.Agent{}, false
	}
	return candidates[0].Agent, true
}

// ExecuteHandoff implements spec §4.5's P2P handoff: it looks up the
// task, selects the best viable candidate, and atomically reassigns
// ownership. The handoff is recorded in the registry's history ring
// strictly before the in-flight marker is cleared — the reverse of the
// Python source's `finally: del self.active_handoffs[task_id]`, which
// cleared the marker before (and regardless of) recording history, so a
// concurrent reader could briefly observe a handoff in neither the
// active set nor the history. See DESIGN.md.
func (e *Evaluator) ExecuteHandoff(taskID string) (hub.Agent, error) {
	task, ok := e.reg.GetTask(taskID)
	if !ok {
		return hub.Agent{}, hub.Errorf(hub.NotFound, "unknown task %s", taskID)
	}
	if !task.Status.Active() || task.Owner == "" {
		return hub.Agent{}, hub.Errorf(hub.StateConflict, "task %s is not an active owned task", taskID)
	}

	e.markActive(taskID, task.Owner)
	if e.metrics != nil {
		e.metrics.IncHandoffsAttempted()
	}

	target, ok := e.SelectCandidate(task)
	if !ok {
		e.finish(taskID, hub.HandoffFailed)
		return hub.Agent{}, hub.Errorf(hub.Unavailable, "no viable handoff candidate for task %s", taskID)
	}

	if err := e.reg.ReassignTask(taskID, task.Owner, target.ID); err != nil {
		e.finishWith(taskID, task.Owner, target.ID, hub.HandoffFailed)
		return hub.Agent{}, err
	}

	e.deliver(target, notify.Notification{TaskID: taskID, Model: task.Model})
	e.finishWith(taskID, task.Owner, target.ID, hub.HandoffCompleted)
	if e.metrics != nil {
		e.metrics.IncHandoffsSucceeded()
	}
	e.log.WithFields(logrus.Fields{
		"task_id": taskID, "from_agent": task.Owner, "to_agent": target.ID,
	}).Info("handoff executed")
	return target, nil
}

// deliver notifies target of a completed handoff: a direct HTTP push to
// its registered endpoint when it declared one and that push succeeds,
// else an enqueue into its pending-notification queue, drained on its
// next heartbeat or /internal/agents/:id/wait poll (spec §4.5). A nil
// notify queue (no WithNotify) makes this a no-op.
func (e *Evaluator) deliver(target hub.Agent, n notify.Notification) {
	if e.notify == nil {
		return
	}
	if target.HasEndpoint() && e.pushDirect(target, n) {
		return
	}
	e.notify.Push(target.ID, n)
}

// pushDirect attempts the direct-delivery tier: POST the notification to
// the agent's own receive endpoint, mirroring
// original_source/exo_hub/services/p2p_handoff_manager.py's
// requests.post(f"{agent_url}/handoff/receive", ...).
func (e *Evaluator) pushDirect(target hub.Agent, n notify.Notification) bool {
	body, err := json.Marshal(struct {
		TaskID string `json:"task_id"`
		Model  string `json:"model"`
	}{TaskID: n.TaskID, Model: n.Model})
	if err != nil {
		return false
	}

	url := fmt.Sprintf("http://%s:%d/handoff/receive", target.Host, target.Port)
	resp, err := directPushClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		e.log.WithField("agent_id", target.ID).WithError(err).Warn("direct handoff notification failed, queuing instead")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *Evaluator) markActive(taskID, fromAgent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[taskID] = hub.Handoff{
		TaskID:      taskID,
		FromAgent:   fromAgent,
		InitiatedAt: e.reg.Now(),
		Outcome:     hub.HandoffPending,
	}
}

// finish records outcome for a handoff that never reached the point of
// choosing a target agent.
func (e *Evaluator) finish(taskID string, outcome hub.HandoffOutcome) {
	e.mu.Lock()
	h, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		return
	}
	h.Outcome = outcome
	h.CompletedAt = e.reg.Now()
	e.reg.RecordHandoff(h) // append to history first (§4.5's fixed ordering)

	e.mu.Lock()
	delete(e.active, taskID) // ... then clear the in-flight marker
	e.mu.Unlock()
}

func (e *Evaluator) finishWith(taskID, fromAgent, toAgent string, outcome hub.HandoffOutcome) {
	e.mu.Lock()
	h, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		h = hub.Handoff{TaskID: taskID, FromAgent: fromAgent, InitiatedAt: e.reg.Now()}
	}
	h.ToAgent = toAgent
	h.Outcome = outcome
	h.CompletedAt = e.reg.Now()
	e.reg.RecordHandoff(h)

	e.mu.Lock()
	delete(e.active, taskID)
	e.mu.Unlock()
}

// ActiveCount reports how many handoffs are currently in flight, for
// tests and observability.
func (e *Evaluator) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
