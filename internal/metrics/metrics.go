// Package metrics holds the process-wide orchestration counters.
//
// Prometheus is the production collector; Counters is a lock-free in-memory
// collector for tests and for the CLI, which has no scrape endpoint.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Prometheus exports orchestration metrics:
//   - codexd_active_sessions: runs in flight
//   - codexd_requests_total{status}: finished runs by status (completed, failed)
//   - codexd_step_duration_seconds{agent}: agent step latency
//   - codexd_steps_total{agent,outcome}: agent steps by outcome
type Prometheus struct {
	activeSessions prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepsTotal     *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg. Each registry may only be
// used once.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "codexd_active_sessions",
			Help: "Number of orchestration runs currently executing",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codexd_requests_total",
			Help: "Total orchestration requests by final status",
		}, []string{"status"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codexd_step_duration_seconds",
			Help:    "Duration of agent steps in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "codexd_steps_total",
			Help: "Total agent steps by agent and outcome",
		}, []string{"agent", "outcome"}),
	}
}

func (p *Prometheus) SessionStarted()  { p.activeSessions.Inc() }
func (p *Prometheus) SessionFinished() { p.activeSessions.Dec() }

func (p *Prometheus) RequestCompleted(success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	p.requestsTotal.WithLabelValues(status).Inc()
}

func (p *Prometheus) StepObserved(agent string, success bool, elapsed time.Duration) {
	p.stepDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
	p.stepsTotal.WithLabelValues(agent, outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Counters is an in-memory collector.
type Counters struct {
	active    atomic.Int64
	requests  atomic.Int64
	failed    atomic.Int64
	steps     atomic.Int64
	stepFails atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	ActiveSessions int64 `json:"active_sessions"`
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
	Steps          int64 `json:"steps"`
	FailedSteps    int64 `json:"failed_steps"`
}

func (c *Counters) SessionStarted()  { c.active.Add(1) }
func (c *Counters) SessionFinished() { c.active.Add(-1) }

func (c *Counters) RequestCompleted(success bool) {
	c.requests.Add(1)
	if !success {
		c.failed.Add(1)
	}
}

func (c *Counters) StepObserved(_ string, success bool, _ time.Duration) {
	c.steps.Add(1)
	if !success {
		c.stepFails.Add(1)
	}
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ActiveSessions: c.active.Load(),
		TotalRequests:  c.requests.Load(),
		FailedRequests: c.failed.Load(),
		Steps:          c.steps.Load(),
		FailedSteps:    c.stepFails.Load(),
	}
}
