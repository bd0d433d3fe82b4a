package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
}

// NewMetrics creates collectors registered on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canvas_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_http_errors_total",
			Help: "Error responses by route, method and error code.",
		}, []string{"route", "method", "code"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_sync_outcomes_total",
			Help: "Canvas write outcomes (created, saved, conflict, deleted).",
		}, []string{"outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canvas_auth_events_total",
			Help: "Authentication events by kind and result.",
		}, []string{"event", "result"}),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.syncOutcomes,
		m.authEvents,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(route, method, code).Inc()
}

// RecordSync counts a canvas write outcome.
func (m *Metrics) RecordSync(outcome string) {
	if m == nil {
		return
	}
	m.syncOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAuth counts an authentication event.
func (m *Metrics) RecordAuth(event string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.authEvents.WithLabelValues(event, result).Inc()
}
