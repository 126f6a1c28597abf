// Package httpapi exposes the hub's dispatch API over the JSON/HTTP wire
// protocol from spec §6, using the same two-router split the teacher
// uses across its two binaries: httprouter.New() for the main control
// surface (harpoon-scheduler/main.go) and pat.New() for a
// simpler-path-parameter sub-route (harpoon-agent/api.go), plus
// streadway/handy/report wrapping every handler for access logging.
package httpapi

import (
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/streadway/handy/report"

	"github.com/exostack/exohub/internal/core"
)

// Server adapts a *core.Hub to net/http.
type Server struct {
	hub *core.Hub
	log logrus.FieldLogger

	waitTimeout time.Duration
}

// New builds a Server over hub. waitTimeout bounds how long the
// agent-notification wait endpoint blocks per request.
func New(hub *core.Hub, log logrus.FieldLogger, waitTimeout time.Duration) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &Server{hub: hub, log: log.WithField("component", "httpapi"), waitTimeout: waitTimeout}
}

// logWriter adapts the server's logger to the io.Writer report.JSON
// wants, mirroring the teacher's own logWriter in
// harpoon-scheduler/main.go.
type logWriter struct{ log logrus.FieldLogger }

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info(string(p))
	return len(p), nil
}

func (s *Server) logged(h http.Handler) http.Handler {
	return report.JSON(logWriter{s.log}, h)
}

// Handler builds the full mux: the httprouter-based primary surface with
// a pat-based agent-notification sub-mux mounted under /internal/.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/healthz", s.wrap(s.handleHealthz))
	router.GET("/events", s.wrap(s.handleEvents))
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.hub.Metrics.Registry, promhttp.HandlerOpts{}))

	router.POST("/nodes/register", s.wrap(s.handleNodeRegister))
	router.POST("/nodes/heartbeat", s.wrap(s.handleNodeHeartbeat))
	router.GET("/nodes/status", s.wrap(s.handleNodeStatus))

	router.POST("/tasks/create", s.wrap(s.handleTaskCreate))
	router.POST("/tasks/batch", s.wrap(s.handleTaskBatch))
	router.GET("/tasks/status", s.wrap(s.handleTaskStatusList))
	router.GET("/tasks/queue/pending", s.wrap(s.handleQueuePending))
	router.GET("/tasks/queue/running", s.wrap(s.handleQueueRunning))
	router.GET("/tasks/agent/:agent_id/next", s.wrap(s.handleAgentNext))
	router.POST("/tasks/agent/:agent_id/complete/:task_id", s.wrap(s.handleAgentComplete))
	router.POST("/tasks/agent/:agent_id/fail/:task_id", s.wrap(s.handleAgentFail))
	router.GET("/tasks/:task_id", s.wrap(s.handleTaskGet))
	router.PUT("/tasks/:task_id/status", s.wrap(s.handleTaskStatusUpdate))
	router.DELETE("/tasks/:task_id", s.wrap(s.handleTaskCancel))

	notifications := pat.New()
	notifications.Get("/internal/agents/:id/wait", http.HandlerFunc(s.handleAgentWait))
	router.NotFound = notifications

	return s.logged(router)
}

// wrap adapts an httprouter.Handle-shaped handler that also wants
// httprouter.Params; report.JSON middleware wraps the whole mux once in
// Handler rather than per-route, since handy/report operates on
// http.Handler, not httprouter.Handle.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
	return httprouter.Handle(h)
}
