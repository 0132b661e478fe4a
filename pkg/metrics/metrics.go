// Package metrics owns the Prometheus registry and the HTTP server that
// exposes it.
//
// Collectors are registered by the components that own them, e.g.
// negotiate.NewMetrics(metrics.InitRegistry()). When metrics are disabled
// the registry is never created and components receive a nil registerer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with Go runtime and
// process collectors. Calling it again returns the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = NewRegistry()
	}
	return registry
}

// NewRegistry creates a registry with the standard Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
