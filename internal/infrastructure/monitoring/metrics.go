package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Launch metrics
	LaunchRequests *prometheus.CounterVec
	LaunchDuration *prometheus.HistogramVec

	// Lifecycle metrics
	AppsRunning     prometheus.Gauge
	LifecycleEvents *prometheus.CounterVec

	// Bus metrics
	BusMethodCalls *prometheus.CounterVec
	BusSignals     *prometheus.CounterVec

	// HTTP metrics (monitoring listener)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		LaunchRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applaunchd_launch_requests_total",
				Help: "Total number of application start requests",
			},
			[]string{"activation", "result"},
		),
		LaunchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "applaunchd_launch_duration_seconds",
				Help:    "Duration of start request handling in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"activation"},
		),

		AppsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "applaunchd_apps_running",
				Help: "Number of applications currently tracked as running or starting",
			},
		),
		LifecycleEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applaunchd_lifecycle_events_total",
				Help: "Total number of lifecycle events republished to subscribers",
			},
			[]string{"kind"},
		),

		BusMethodCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applaunchd_bus_method_calls_total",
				Help: "Total number of D-Bus method calls handled",
			},
			[]string{"method", "status"},
		),
		BusSignals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applaunchd_bus_signals_total",
				Help: "Total number of D-Bus signals emitted",
			},
			[]string{"signal"},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applaunchd_http_requests_total",
				Help: "Total number of HTTP requests to the monitoring listener",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "applaunchd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "applaunchd_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	return m
}

// RecordLaunch records the outcome of a start request.
func (m *Metrics) RecordLaunch(activation, result string, duration time.Duration) {
	m.LaunchRequests.WithLabelValues(activation, result).Inc()
	m.LaunchDuration.WithLabelValues(activation).Observe(duration.Seconds())
}

// RecordEvent records a republished lifecycle event and adjusts the
// running-apps gauge.
func (m *Metrics) RecordEvent(kind string) {
	m.LifecycleEvents.WithLabelValues(kind).Inc()
	switch kind {
	case "started":
		m.AppsRunning.Inc()
	case "terminated":
		m.AppsRunning.Dec()
	}
}

// RecordBusCall records a handled D-Bus method call.
func (m *Metrics) RecordBusCall(method, status string) {
	m.BusMethodCalls.WithLabelValues(method, status).Inc()
}

// RecordBusSignal records an emitted D-Bus signal.
func (m *Metrics) RecordBusSignal(signal string) {
	m.BusSignals.WithLabelValues(signal).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
