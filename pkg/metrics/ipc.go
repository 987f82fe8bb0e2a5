package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// IPCMetrics holds metrics describing the Unix-socket IPC surface.
type IPCMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ActiveConnections  prometheus.Gauge
	BroadcastLagTotal  prometheus.Counter
	SubscribersActive  prometheus.Gauge
}

func newIPCMetrics(registry *prometheus.Registry) *IPCMetrics {
	m := &IPCMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "ipc",
				Name:      "requests_total",
				Help:      "Total number of IPC requests handled, by request type and outcome.",
			},
			[]string{"type", "success"},
		),

		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "qorvex",
				Subsystem: "ipc",
				Name:      "active_connections",
				Help:      "Number of currently connected IPC clients.",
			},
		),

		BroadcastLagTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "ipc",
				Name:      "broadcast_lag_total",
				Help:      "Total number of times a subscriber was dropped for lagging behind the broadcast bus.",
			},
		),

		SubscribersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "qorvex",
				Subsystem: "ipc",
				Name:      "subscribers_active",
				Help:      "Number of clients currently subscribed to the session broadcast bus.",
			},
		),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.ActiveConnections,
		m.BroadcastLagTotal,
		m.SubscribersActive,
	)

	return m
}

// RecordRequest records a completed IPC request.
func (m *IPCMetrics) RecordRequest(requestType string, success bool) {
	m.RequestsTotal.WithLabelValues(requestType, boolLabel(success)).Inc()
}

// RecordBroadcastLag records a subscriber being dropped for lagging.
func (m *IPCMetrics) RecordBroadcastLag() {
	m.BroadcastLagTotal.Inc()
}
