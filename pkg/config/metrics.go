package config

import (
	"context"

	"github.com/marmos91/dittodisk/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Metadata, Tree, Share and Archive are never nil; they are no-ops when
	// metrics are disabled.
	Metadata metrics.MetadataMetrics
	Tree     metrics.TreeMetrics
	Share    metrics.ShareMetrics
	Archive  metrics.ArchiveMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, probing health through health
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations
func InitializeMetrics(cfg *Config, health func(ctx context.Context) error) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Metadata: metrics.NewNoopMetadataMetrics(),
			Tree:     metrics.NewNoopTreeMetrics(),
			Share:    metrics.NewNoopShareMetrics(),
			Archive:  metrics.NewNoopArchiveMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port:   cfg.Metrics.Port,
			Health: health,
		}),
		Metadata: metrics.NewMetadataMetrics(cfg.Metadata.Type),
		Tree:     metrics.NewTreeMetrics(),
		Share:    metrics.NewShareMetrics(),
		Archive:  metrics.NewArchiveMetrics(),
	}
}
