// Package metrics holds the Prometheus collectors for the context plane.
//
// Collectors live on a per-instance registry rather than the process-wide
// default so several stores can coexist in one process (tests included).
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contextd"

// Metrics groups every collector exported by the service.
type Metrics struct {
	Registry *prometheus.Registry

	storeOps         *prometheus.CounterVec
	versionConflicts prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	subscribers      prometheus.Gauge
	toolExecutions   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Context store operations by operation and result.",
		}, []string{"op", "result"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "version_conflicts_total",
			Help:      "Updates rejected by the optimistic-concurrency check.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_published_total",
			Help:      "Context events published to the notifier, by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber backlog overflowed.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Currently registered event subscribers.",
		}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tool_executions_total",
			Help:      "Tool capability invocations by tool and result.",
		}, []string{"tool", "result"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tool_duration_seconds",
			Help:      "Tool capability latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.storeOps,
		m.versionConflicts,
		m.eventsPublished,
		m.eventsDropped,
		m.subscribers,
		m.toolExecutions,
		m.toolDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StoreOp counts one store operation. result is "ok", "not_found",
// "conflict" or "error".
func (m *Metrics) StoreOp(op, result string) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, result).Inc()
	if result == "conflict" {
		m.versionConflicts.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SetSubscribers reports the current subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// ToolExecuted records one capability call and its latency.
func (m *Metrics) ToolExecuted(tool string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.toolExecutions.WithLabelValues(tool, result).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(took.Seconds())
}
