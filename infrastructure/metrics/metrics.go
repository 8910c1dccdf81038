// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Pipeline metrics
	CasesByStatus      *prometheus.GaugeVec
	FileExtractions    *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	RenderDuration     prometheus.Histogram
	ActiveJobs         prometheus.Gauge
	QueueDepth         prometheus.Gauge

	// Watcher and push channel
	WatcherEvents *prometheus.CounterVec
	PushClients   prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		CasesByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_cases",
				Help: "Number of cases by status",
			},
			[]string{"status"},
		),
		FileExtractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_file_extractions_total",
				Help: "Total number of per-file extraction attempts",
			},
			[]string{"status"},
		),
		ExtractionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_extraction_duration_seconds",
				Help:    "Per-file extraction duration in seconds",
				Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		RenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "engine_render_duration_seconds",
				Help:    "Per-case render duration in seconds",
				Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_active_jobs",
				Help: "Number of driver jobs currently holding a case lease",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_queue_depth",
				Help: "Number of process requests waiting for a worker slot",
			},
		),

		WatcherEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_watcher_events_total",
				Help: "Filesystem watcher events by kind",
			},
			[]string{"kind"},
		),
		PushClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_push_clients",
				Help: "Connected push channel clients",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.CasesByStatus,
			m.FileExtractions,
			m.ExtractionDuration,
			m.RenderDuration,
			m.ActiveJobs,
			m.QueueDepth,
			m.WatcherEvents,
			m.PushClients,
			m.ServiceUptime,
		)
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordExtraction records a per-file extraction attempt
func (m *Metrics) RecordExtraction(status string, duration time.Duration) {
	m.FileExtractions.WithLabelValues(status).Inc()
	m.ExtractionDuration.Observe(duration.Seconds())
}

// RecordRender records a render job duration
func (m *Metrics) RecordRender(duration time.Duration) {
	m.RenderDuration.Observe(duration.Seconds())
}

// RecordWatcherEvent records a filesystem watcher event
func (m *Metrics) RecordWatcherEvent(kind string) {
	m.WatcherEvents.WithLabelValues(kind).Inc()
}

// SetCaseCount sets the number of cases in a given status
func (m *Metrics) SetCaseCount(status string, count int) {
	m.CasesByStatus.WithLabelValues(status).Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Enabled returns whether Prometheus metrics should be exposed.
// Default: enabled unless explicitly disabled via METRICS_ENABLED.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}
