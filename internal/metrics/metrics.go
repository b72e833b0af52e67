// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/governance"
)

// Collector records engine activity. It implements execute.Observer and owns
// its registry.
type Collector struct {
	registry *prometheus.Registry

	processesStarted   *prometheus.CounterVec
	processesCompleted *prometheus.CounterVec
	processesActive    *prometheus.GaugeVec
	processDuration    *prometheus.HistogramVec

	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	escalations *prometheus.CounterVec
	governance  *prometheus.CounterVec

	webhooks *prometheus.CounterVec
}

var _ execute.Observer = (*Collector)(nil)

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "officefloor"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.processesStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "started_total",
			Help:      "Total number of processes started",
		},
		[]string{"office", "function"},
	)
	c.processesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "completed_total",
			Help:      "Total number of processes completed",
		},
		[]string{"office", "result"},
	)
	c.processesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "active",
			Help:      "Processes currently running",
		},
		[]string{"office"},
	)
	c.processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "duration_seconds",
			Help:      "Time from invocation to completion of a process",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"office"},
	)

	c.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "executed_total",
			Help:      "Total number of function executions",
		},
		[]string{"office", "team", "result"},
	)
	c.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Time spent executing a function",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"team"},
	)

	c.escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Total number of escalations handled",
		},
		[]string{"office", "kind", "level"},
	)
	c.governance = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governance_finalized_total",
			Help:      "Total number of governance activations ended",
		},
		[]string{"office", "governance", "state", "result"},
	)
	c.webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook deliveries by path and response status",
		},
		[]string{"path", "status"},
	)

	c.registry.MustRegister(
		c.processesStarted,
		c.processesCompleted,
		c.processesActive,
		c.processDuration,
		c.jobsTotal,
		c.jobDuration,
		c.escalations,
		c.governance,
		c.webhooks,
	)
	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ProcessStarted(office, function, _ string) {
	c.processesStarted.WithLabelValues(office, function).Inc()
	c.processesActive.WithLabelValues(office).Inc()
}

func (c *Collector) ProcessCompleted(office string, outcome execute.Outcome, elapsed time.Duration) {
	c.processesCompleted.WithLabelValues(office, result(outcome.Err)).Inc()
	c.processesActive.WithLabelValues(office).Dec()
	c.processDuration.WithLabelValues(office).Observe(elapsed.Seconds())
}

func (c *Collector) JobExecuted(office, _, team string, elapsed time.Duration, err error) {
	c.jobsTotal.WithLabelValues(office, team, result(err)).Inc()
	c.jobDuration.WithLabelValues(team).Observe(elapsed.Seconds())
}

func (c *Collector) EscalationHandled(office, _, kind, _, level string) {
	c.escalations.WithLabelValues(office, kind, level).Inc()
}

func (c *Collector) GovernanceFinalized(office, gov string, state governance.State, err error) {
	c.governance.WithLabelValues(office, gov, state.String(), result(err)).Inc()
}

// WebhookHandled counts one webhook delivery.
func (c *Collector) WebhookHandled(path string, status int) {
	c.webhooks.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
