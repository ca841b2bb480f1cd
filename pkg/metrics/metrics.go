// Package metrics exposes Prometheus instrumentation for the timeline engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "murmur"

// Metrics groups the collectors of one client instance. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	anomalies     prometheus.Counter
	malformed     prometheus.Counter
	sends         *prometheus.CounterVec
	pages         *prometheus.CounterVec
	pageMerged    prometheus.Histogram
	jumps         *prometheus.CounterVec
	cacheWrites   prometheus.Counter
	heightUpdates *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Real-time events processed by the reconciler, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_id_collisions_total",
			Help:      "Incoming server ids that collided with a stored client temp id.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped because they could not be decoded.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Optimistic sends by result.",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pagination_requests_total",
			Help:      "Pagination requests by direction and result.",
		}, []string{"direction", "result"}),
		pageMerged: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pagination_merged_messages",
			Help:      "New unique messages merged per page.",
			Buckets:   prometheus.LinearBuckets(0, 10, 6),
		}),
		jumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jumps_total",
			Help:      "Jump-to-message requests by resolution.",
		}, []string{"result"}),
		cacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_messages_written_total",
			Help:      "Messages written to the local cache.",
		}),
		heightUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_height_measurements_total",
			Help:      "Row height measurements by whether the cache accepted them.",
		}, []string{"accepted"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.events, m.anomalies, m.malformed, m.sends, m.pages, m.pageMerged,
		m.jumps, m.cacheWrites, m.heightUpdates,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IDCollision() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) Page(direction, result string, merged int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(direction, result).Inc()
	if result == "ok" {
		m.pageMerged.Observe(float64(merged))
	}
}

func (m *Metrics) Jump(result string) {
	if m == nil {
		return
	}
	m.jumps.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWrite(n int) {
	if m == nil {
		return
	}
	m.cacheWrites.Add(float64(n))
}

func (m *Metrics) HeightMeasured(accepted bool) {
	if m == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	m.heightUpdates.WithLabelValues(label).Inc()
}
