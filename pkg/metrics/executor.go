package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics holds metrics describing action execution, labelled by
// action kind and outcome.
type ExecutorMetrics struct {
	ActionDuration *prometheus.HistogramVec
	ActionsTotal   *prometheus.CounterVec
	WaitForRetries *prometheus.CounterVec
}

func newExecutorMetrics(registry *prometheus.Registry) *ExecutorMetrics {
	m := &ExecutorMetrics{
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "qorvex",
				Subsystem: "executor",
				Name:      "action_duration_seconds",
				Help:      "Duration of a single executed action.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind", "success"},
		),

		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "executor",
				Name:      "actions_total",
				Help:      "Total number of actions executed.",
			},
			[]string{"kind", "success"},
		),

		WaitForRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qorvex",
				Subsystem: "executor",
				Name:      "wait_for_polls_total",
				Help:      "Total number of poll iterations spent in WaitFor/WaitForNot.",
			},
			[]string{"kind"}, // wait_for, wait_for_not
		),
	}

	registry.MustRegister(
		m.ActionDuration,
		m.ActionsTotal,
		m.WaitForRetries,
	)

	return m
}

// RecordAction records the outcome and duration of a single action.
func (m *ExecutorMetrics) RecordAction(kind string, success bool, durationSeconds float64) {
	label := boolLabel(success)
	m.ActionDuration.WithLabelValues(kind, label).Observe(durationSeconds)
	m.ActionsTotal.WithLabelValues(kind, label).Inc()
}

// RecordWaitForPoll records a single poll iteration of a WaitFor loop.
func (m *ExecutorMetrics) RecordWaitForPoll(kind string) {
	m.WaitForRetries.WithLabelValues(kind).Inc()
}
