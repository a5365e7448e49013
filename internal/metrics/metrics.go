// Package metrics exposes Prometheus instrumentation for the correlation pipeline and search.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callmind"

// Event outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
	OutcomeOK        = "ok"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	indexAttempts  *prometheus.CounterVec
	indexDuration  prometheus.Histogram
	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
	sweeps         *prometheus.CounterVec
	callControl    *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound provider events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Call record status transitions by target status.",
		}, []string{"status"}),
		indexAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_attempts_total",
			Help:      "Transcript indexing attempts by outcome.",
		}, []string{"outcome"}),
		indexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Time to index one transcript, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency by mode.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_queue_depth",
			Help:      "Records waiting in the indexing queue.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_total",
			Help:      "Records failed or requeued by the periodic sweep.",
		}, []string{"action"}),
		callControl: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_control_requests_total",
			Help:      "Provider call control requests by operation and outcome.",
		}, []string{"op", "outcome"}),
	}
	m.registry.MustRegister(
		m.events, m.transitions, m.indexAttempts, m.indexDuration,
		m.searches, m.searchDuration, m.queueDepth, m.sweeps, m.callControl,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventReceived(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IndexAttempt(outcome string) {
	if m == nil {
		return
	}
	m.indexAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIndex(d time.Duration) {
	if m == nil {
		return
	}
	m.indexDuration.Observe(d.Seconds())
}

func (m *Metrics) SearchCompleted(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(mode, outcome).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SweepAction(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweeps.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) CallControl(op, outcome string) {
	if m == nil {
		return
	}
	m.callControl.WithLabelValues(op, outcome).Inc()
}
