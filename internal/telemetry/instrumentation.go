// Package telemetry holds the hub's dual expvar + Prometheus counters
// and gauges, directly grounded in the teacher's
// harpoon-scheduler/instrumentation.go. Unlike the teacher, which
// constructs prometheus.Counter values but never registers or serves
// them, this package registers every metric against its own
// prometheus.Registry and exposes it for internal/httpapi to mount —
// completing the idiom the teacher started rather than leaving
// never-exported metrics behind.
package telemetry

import (
	"expvar"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// expvars is the single process-wide expvar.Map every Metrics instance
// publishes its counters into, keyed by agent-visible name. A fresh
// Metrics is constructed on every core.New (including once per test),
// and expvar.NewInt/expvar.Publish panic if the same literal name is
// registered twice in one process; routing through one lazily-published
// Map sidesteps that, since Map.Set just overwrites the prior instance's
// entry instead of panicking.
var expvars = new(expvar.Map).Init()

var publishOnce sync.Once

// Metrics holds every counter/gauge the hub emits.
type Metrics struct {
	Registry *prometheus.Registry

	eTasksSubmitted    *expvar.Int
	eTasksClaimed      *expvar.Int
	eTasksCompleted    *expvar.Int
	eTasksFailed       *expvar.Int
	eTasksRequeued     *expvar.Int
	eHandoffsAttempted *expvar.Int
	eHandoffsSucceeded *expvar.Int
	eAgentsOffline     *expvar.Int

	pTasksSubmitted    prometheus.Counter
	pTasksClaimed      prometheus.Counter
	pTasksCompleted    prometheus.Counter
	pTasksFailed       prometheus.Counter
	pTasksRequeued     prometheus.Counter
	pHandoffsAttempted prometheus.Counter
	pHandoffsSucceeded prometheus.Counter
	pAgentsOffline     prometheus.Counter
	pQueueDepth        prometheus.Gauge
	pOnlineAgents      prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "exostack",
		Subsystem: "hub",
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "exostack",
		Subsystem: "hub",
		Name:      name,
		Help:      help,
	})
}

// New constructs and registers the hub's metrics.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		eTasksSubmitted:    new(expvar.Int),
		eTasksClaimed:      new(expvar.Int),
		eTasksCompleted:    new(expvar.Int),
		eTasksFailed:       new(expvar.Int),
		eTasksRequeued:     new(expvar.Int),
		eHandoffsAttempted: new(expvar.Int),
		eHandoffsSucceeded: new(expvar.Int),
		eAgentsOffline:     new(expvar.Int),

		pTasksSubmitted:    counter("tasks_submitted_total", "Number of tasks submitted."),
		pTasksClaimed:      counter("tasks_claimed_total", "Number of tasks claimed by an agent."),
		pTasksCompleted:    counter("tasks_completed_total", "Number of tasks completed successfully."),
		pTasksFailed:       counter("tasks_failed_total", "Number of tasks that terminally failed."),
		pTasksRequeued:     counter("tasks_requeued_total", "Number of transient-failure retries requeued."),
		pHandoffsAttempted: counter("handoffs_attempted_total", "Number of peer-to-peer handoff attempts."),
		pHandoffsSucceeded: counter("handoffs_succeeded_total", "Number of peer-to-peer handoffs that completed."),
		pAgentsOffline:     counter("agents_offline_total", "Number of times an agent was marked offline by the liveness sweep."),
		pQueueDepth:        gauge("queue_depth", "Current number of pending tasks."),
		pOnlineAgents:      gauge("online_agents", "Current number of online agents."),
	}

	m.Registry.MustRegister(
		m.pTasksSubmitted, m.pTasksClaimed, m.pTasksCompleted, m.pTasksFailed, m.pTasksRequeued,
		m.pHandoffsAttempted, m.pHandoffsSucceeded, m.pAgentsOffline, m.pQueueDepth, m.pOnlineAgents,
	)

	expvars.Set("tasks_submitted", m.eTasksSubmitted)
	expvars.Set("tasks_claimed", m.eTasksClaimed)
	expvars.Set("tasks_completed", m.eTasksCompleted)
	expvars.Set("tasks_failed", m.eTasksFailed)
	expvars.Set("tasks_requeued", m.eTasksRequeued)
	expvars.Set("handoffs_attempted", m.eHandoffsAttempted)
	expvars.Set("handoffs_succeeded", m.eHandoffsSucceeded)
	expvars.Set("agents_offline", m.eAgentsOffline)
	publishOnce.Do(func() { expvar.Publish("exohub", expvars) })

	return m
}

func (m *Metrics) IncTasksSubmitted()    { m.eTasksSubmitted.Add(1); m.pTasksSubmitted.Inc() }
func (m *Metrics) IncTasksClaimed()      { m.eTasksClaimed.Add(1); m.pTasksClaimed.Inc() }
func (m *Metrics) IncTasksCompleted()    { m.eTasksCompleted.Add(1); m.pTasksCompleted.Inc() }
func (m *Metrics) IncTasksFailed()       { m.eTasksFailed.Add(1); m.pTasksFailed.Inc() }
func (m *Metrics) IncTasksRequeued()     { m.eTasksRequeued.Add(1); m.pTasksRequeued.Inc() }
func (m *Metrics) IncHandoffsAttempted() { m.eHandoffsAttempted.Add(1); m.pHandoffsAttempted.Inc() }
func (m *Metrics) IncHandoffsSucceeded() { m.eHandoffsSucceeded.Add(1); m.pHandoffsSucceeded.Inc() }
func (m *Metrics) IncAgentsOffline()     { m.eAgentsOffline.Add(1); m.pAgentsOffline.Inc() }

func (m *Metrics) SetQueueDepth(n int)   { m.pQueueDepth.Set(float64(n)) }
func (m *Metrics) SetOnlineAgents(n int) { m.pOnlineAgents.Set(float64(n)) }
