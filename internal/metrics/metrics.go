// Package metrics provides Prometheus metrics for the Fenris server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fenris"

// Metrics contains all Prometheus metrics for the server.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected prometheus.Counter

	RequestsTotal *prometheus.CounterVec
	RequestErrors *prometheus.CounterVec

	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against the global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default
// Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance registered with a
// custom registry, useful for isolated tests.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections rejected due to capacity",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total requests processed by command kind",
		}, []string{"command"}),
		RequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Total handler-level error responses by command kind",
		}, []string{"command"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of secure channel handshake latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake errors by kind",
		}, []string{"error_type"}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Total bytes read from clients across all sessions",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Total bytes written to clients across all sessions",
		}),
	}
}

// RecordConnect records a newly admitted connection.
func (m *Metrics) RecordConnect() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// RecordDisconnect records a connection's teardown.
func (m *Metrics) RecordDisconnect() {
	m.ConnectionsActive.Dec()
}

// RecordRejected records a connection dropped due to capacity.
func (m *Metrics) RecordRejected() {
	m.ConnectionsRejected.Inc()
}

// RecordRequest records one dispatched request, and an error if the
// response it produced was handler-level failure.
func (m *Metrics) RecordRequest(command string, success bool) {
	m.RequestsTotal.WithLabelValues(command).Inc()
	if !success {
		m.RequestErrors.WithLabelValues(command).Inc()
	}
}

// RecordHandshake records a successful handshake's latency.
func (m *Metrics) RecordHandshake(latencySeconds float64) {
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordHandshakeError records a failed handshake by kind.
func (m *Metrics) RecordHandshakeError(errorType string) {
	m.HandshakeErrors.WithLabelValues(errorType).Inc()
}

// RecordBytesRead adds to the running byte-read counter.
func (m *Metrics) RecordBytesRead(n int) {
	m.BytesRead.Add(float64(n))
}

// RecordBytesWritten adds to the running byte-written counter.
func (m *Metrics) RecordBytesWritten(n int) {
	m.BytesWritten.Add(float64(n))
}
