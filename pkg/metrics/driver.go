package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DriverMetrics holds metrics describing the agent connection and its
// crash-recovery behavior.
type DriverMetrics struct {
	RecoveryTotal    *prometheus.CounterVec
	RecoveryCount    prometheus.Gauge
	ConnectionState  *prometheus.GaugeVec
	CommandDuration  *prometheus.HistogramVec
	CommandsTotal    *prometheus.CounterVec
}

func newDriverMetrics(registry *prometheus.Registry) *DriverMetrics {
	m := &DriverMetrics{
		RecoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "driver",
				Name:      "recovery_total",
				Help:      "Total number of driver crash-recovery attempts, by stage.",
			},
			[]string{"stage"}, // reconnect, respawn
		),

		RecoveryCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "qorvex",
				Subsystem: "driver",
				Name:      "recovery_count",
				Help:      "Current value of the driver's monotonic recovery counter.",
			},
		),

		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "qorvex",
				Subsystem: "driver",
				Name:      "connection_state",
				Help:      "Current agent connection state (1=connected, 0=disconnected).",
			},
			[]string{"state"},
		),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "qorvex",
				Subsystem: "driver",
				Name:      "command_duration_seconds",
				Help:      "Duration of a single wire command round trip.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"opcode", "success"},
		),

		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "driver",
				Name:      "commands_total",
				Help:      "Total number of wire commands issued to the agent.",
			},
			[]string{"opcode", "success"},
		),
	}

	registry.MustRegister(
		m.RecoveryTotal,
		m.RecoveryCount,
		m.ConnectionState,
		m.CommandDuration,
		m.CommandsTotal,
	)

	return m
}

// RecordRecovery records a staged crash-recovery attempt and updates the
// gauge mirroring the driver's recovery counter.
func (m *DriverMetrics) RecordRecovery(stage string, recoveryCount uint64) {
	m.RecoveryTotal.WithLabelValues(stage).Inc()
	m.RecoveryCount.Set(float64(recoveryCount))
}

// SetConnected reflects the agent connection state.
func (m *DriverMetrics) SetConnected(connected bool) {
	if connected {
		m.ConnectionState.WithLabelValues("connected").Set(1)
		m.ConnectionState.WithLabelValues("disconnected").Set(0)
		return
	}
	m.ConnectionState.WithLabelValues("connected").Set(0)
	m.ConnectionState.WithLabelValues("disconnected").Set(1)
}

// RecordCommand records a completed wire command.
func (m *DriverMetrics) RecordCommand(opcode string, success bool, durationSeconds float64) {
	label := boolLabel(success)
	m.CommandDuration.WithLabelValues(opcode, label).Observe(durationSeconds)
	m.CommandsTotal.WithLabelValues(opcode, label).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
