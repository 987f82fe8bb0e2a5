// Package metrics provides Prometheus metrics for qorvex-host.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	Driver   *DriverMetrics
	Executor *ExecutorMetrics
	IPC      *IPCMetrics
}

// NewMetrics creates a Metrics instance with every metric group registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &Metrics{
		registry: registry,
		Driver:   newDriverMetrics(registry),
		Executor: newExecutorMetrics(registry),
		IPC:      newIPCMetrics(registry),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint, mounted by
// the observability bridge when it is enabled.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics:   true,
			MaxRequestsInFlight: 10,
		},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
