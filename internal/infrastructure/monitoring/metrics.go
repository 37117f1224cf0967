package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec
	ServiceErrors   *prometheus.CounterVec

	// Registry metrics
	RegistryApps      *prometheus.GaugeVec
	CommitsTotal      *prometheus.CounterVec
	RollbacksTotal    *prometheus.CounterVec
	SweepRemovals     *prometheus.CounterVec
	PartialCleanups   prometheus.Counter
	FeedEvents        *prometheus.CounterVec
	FeedSubscriptions prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health endpoint
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	TotalDuration float64 `json:"total_duration_seconds"`
	Commits       int64   `json:"commits"`
	Removals      int64   `json:"removals"`
	Uptime        float64 `json:"uptime_seconds"`
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_service_calls_total",
				Help: "Total number of registry service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "registry_service_duration_seconds",
				Help:    "Registry service call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30},
			},
			[]string{"service", "method"},
		),
		ServiceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_service_errors_total",
				Help: "Total number of registry service errors",
			},
			[]string{"service", "method", "error_type"},
		),

		RegistryApps: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "registry_apps",
				Help: "Number of applications in the registry",
			},
			[]string{"kind"},
		),
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_commits_total",
				Help: "Total number of committed applications",
			},
			[]string{"kind"},
		),
		RollbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_rollbacks_total",
				Help: "Total number of rolled back commits",
			},
			[]string{"reason"},
		),
		SweepRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_sweep_removals_total",
				Help: "Orphans removed by the startup sweep",
			},
			[]string{"target"},
		),
		PartialCleanups: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "registry_partial_cleanups_total",
				Help: "Removals whose directory could not be fully deleted",
			},
		),
		FeedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_feed_events_total",
				Help: "Events published on the change feed",
			},
			[]string{"type"},
		),
		FeedSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "registry_feed_subscriptions",
				Help: "Active change feed subscriptions",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "registry_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "registry_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "registry_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the Prometheus registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordServiceCall records a service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordServiceError records a service error
func (m *Metrics) RecordServiceError(service, method, errorType string) {
	m.ServiceErrors.WithLabelValues(service, method, errorType).Inc()
}

// SetRegistryApps sets the number of apps of one kind
func (m *Metrics) SetRegistryApps(kind string, count int) {
	m.RegistryApps.WithLabelValues(kind).Set(float64(count))
}

// IncCommits counts a committed application
func (m *Metrics) IncCommits(kind string) {
	m.CommitsTotal.WithLabelValues(kind).Inc()
	m.mu.Lock()
	m.snapshot.Commits++
	m.mu.Unlock()
}

// IncRemovals counts a removed application
func (m *Metrics) IncRemovals() {
	m.mu.Lock()
	m.snapshot.Removals++
	m.mu.Unlock()
}

// IncRollbacks counts a rolled back commit
func (m *Metrics) IncRollbacks(reason string) {
	m.RollbacksTotal.WithLabelValues(reason).Inc()
}

// IncPartialCleanups counts a removal that left files behind
func (m *Metrics) IncPartialCleanups() {
	m.PartialCleanups.Inc()
}

// AddSweepRemovals counts orphans removed by a sweep
func (m *Metrics) AddSweepRemovals(target string, n int) {
	m.SweepRemovals.WithLabelValues(target).Add(float64(n))
}

// IncFeedEvents counts a published change event
func (m *Metrics) IncFeedEvents(eventType string) {
	m.FeedEvents.WithLabelValues(eventType).Inc()
}

// SetFeedSubscriptions sets the number of feed subscribers
func (m *Metrics) SetFeedSubscriptions(count int) {
	m.FeedSubscriptions.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}

// Snapshot returns the current counters for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()
	snap.Uptime = time.Since(m.startTime).Seconds()
	return snap
}
