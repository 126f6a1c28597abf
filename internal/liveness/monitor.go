// Package liveness implements the agent liveness sweep: a single
// background goroutine on a time.Ticker, the same actor-loop shape as
// the teacher's stateMachine.loop and basicScheduler.loop, generalized
// from one agent's event stream to a periodic sweep over the whole
// registry.
package liveness

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/exostack/exohub/hub"
	"github.com/exostack/exohub/internal/notify"
	"github.com/exostack/exohub/internal/registry"
	"github.com/exostack/exohub/internal/scheduler"
	"github.com/exostack/exohub/internal/telemetry"
)

// DefaultOfflineThreshold is how long an agent may go without a
// heartbeat before the sweep marks it offline (spec §4.4).
const DefaultOfflineThreshold = 30 * time.Second

// DefaultStalePendingThreshold is how long a task may sit pending before
// the sweep ages its priority (spec §4.2).
const DefaultStalePendingThreshold = 2 * time.Minute

// DefaultInterval is the sweep cadence.
const DefaultInterval = 5 * time.Second

// Monitor runs the periodic liveness sweep.
type Monitor struct {
	reg      *registry.Registry
	sched    *scheduler.Scheduler
	queues   *notify.Queues
	events   *notify.Broadcaster
	log      logrus.FieldLogger
	interval time.Duration

	offlineThreshold      time.Duration
	stalePendingThreshold time.Duration

	metrics *telemetry.Metrics
	quit    chan chan struct{}
}

// WithMetrics attaches telemetry counters/gauges, updated every sweep.
func (m *Monitor) WithMetrics(metrics *telemetry.Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

// WithOfflineThreshold overrides the heartbeat timeout.
func WithOfflineThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.offlineThreshold = d }
}

// WithStalePendingThreshold overrides the pending-aging threshold.
func WithStalePendingThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.stalePendingThreshold = d }
}

// New constructs a Monitor. Call Run to start its goroutine.
func New(reg *registry.Registry, sched *scheduler.Scheduler, queues *notify.Queues, events *notify.Broadcaster, log logrus.FieldLogger, opts ...Option) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Monitor{
		reg:                   reg,
		sched:                 sched,
		queues:                queues,
		events:                events,
		log:                   log.WithField("component", "liveness"),
		interval:              DefaultInterval,
		offlineThreshold:      DefaultOfflineThreshold,
		stalePendingThreshold: DefaultStalePendingThreshold,
		quit:                  make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the sweep loop in a new goroutine. Stop ends it.
func (m *Monitor) Run() {
	go m.loop()
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Monitor) Stop() {
	q := make(chan struct{})
	m.quit <- q
	<-q
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case q := <-m.quit:
			close(q)
			return
		}
	}
}

// sweep runs one liveness pass: offline detection, orphan reclamation,
// notification-queue pruning, and stale-pending aging.
func (m *Monitor) sweep() {
	now := m.reg.Now()

	online := hub.AgentOnline
	onlineAgents := m.reg.ListAgents(hub.AgentFilter{Status: &online})
	stillOnline := len(onlineAgents)
	for _, a := range onlineAgents {
		if now.Sub(a.LastHeartbeat) < m.offlineThreshold {
			continue
		}
		if !m.reg.MarkOffline(a.ID) {
			continue
		}
		stillOnline--
		m.log.WithField("agent_id", a.ID).Warn("agent offline, reclaiming its tasks")
		if m.events != nil {
			m.events.Publish(notify.Event{Kind: "agent_offline", AgentID: a.ID, At: now})
		}
		if m.metrics != nil {
			m.metrics.IncAgentsOffline()
		}
		m.reclaimOwnedBy(a.ID)
	}

	if m.metrics != nil {
		m.metrics.SetOnlineAgents(stillOnline)
	}

	if m.queues != nil {
		if dropped := m.queues.PruneExpired(); dropped > 0 {
			m.log.WithField("count", dropped).Debug("pruned expired notifications")
		}
	}

	if m.sched != nil {
		m.sched.SweepStalePending(m.stalePendingThreshold)
	}
}

// reclaimOwnedBy requeues every active task still pointing at agentID
// after it's been marked offline.
func (m *Monitor) reclaimOwnedBy(agentID string) {
	owned := m.reg.ListTasks(hub.TaskFilter{Owner: agentID}, 0)
	for _, t := range owned {
		if !t.Status.Active() {
			continue
		}
		if err := m.sched.ReclaimOrphan(t.ID); err != nil {
			m.log.WithFields(logrus.Fields{"task_id": t.ID, "agent_id": agentID}).WithError(err).Error("failed to reclaim orphaned task")
		}
	}
}
