// Package metrics provides Prometheus metrics collection for DittoDisk components.
//
// All metrics are optional. Until InitRegistry is called every constructor
// returns a no-op implementation, so the tree engine, the share registry and
// the archive exporter run identically with or without collection enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	treeMetrics := metrics.NewTreeMetrics()
//	shareMetrics := metrics.NewShareMetrics()
package metrics

import (
	"net/http"
	"sync"

	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dittodisk"

var (
	// registry is the global Prometheus registry for all DittoDisk metrics.
	// Written once by InitRegistry, read many times afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry and registers the
// Go runtime and process collectors on it.
//
// Safe to call multiple times - subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global Prometheus registry, or nil when metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry() has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Handler returns the scrape handler for the global registry, or nil when
// metrics are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// status maps an operation error to a low-cardinality label value.
func status(err error) string {
	if err == nil {
		return "success"
	}
	if code, ok := metadata.CodeOf(err); ok {
		return code.String()
	}
	return "error"
}
