package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/internal/ratelimiter"
	"github.com/marmos91/dittodisk/pkg/archive"
	"github.com/marmos91/dittodisk/pkg/fsck"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/share"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/tree"
)

// Runtime holds every component built from one configuration.
type Runtime struct {
	Config   *Config
	Metadata metadata.MetadataStore
	Content  content.ContentStore
	Tree     *tree.Mutator
	Shares   *share.Registry
	Exporter *archive.Exporter

	// Sink is nil unless archive.s3.enabled is set
	Sink *archive.S3Sink

	Checker *fsck.Checker
	Metrics *MetricsResult
}

// InitializeRuntime creates a fully wired Runtime from the provided configuration.
//
// This function orchestrates the complete initialization process:
//  1. Initializes metrics (no-ops when disabled)
//  2. Opens the metadata and content stores
//  3. Seeds role quotas from the configuration
//  4. Builds the tree engine, share registry, exporter, sink and checker
//
// On error every component opened so far is closed.
func InitializeRuntime(ctx context.Context, cfg *Config) (_ *Runtime, err error) {
	logger.Debug("Initializing runtime from configuration")

	rt := &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close(ctx)
		}
	}()

	rt.Metrics = InitializeMetrics(cfg, rt.Health)

	if rt.Metadata, err = CreateMetadataStore(ctx, &cfg.Metadata, rt.Metrics.Metadata); err != nil {
		return nil, err
	}
	if rt.Content, err = CreateContentStore(ctx, &cfg.Storage); err != nil {
		return nil, err
	}
	if err = SeedRoleLimits(ctx, rt.Metadata, &cfg.Quota); err != nil {
		return nil, err
	}

	secret := []byte(cfg.Security.SecretKey)

	rt.Tree, err = tree.New(rt.Metadata, rt.Content, tree.Config{
		Secret:  secret,
		Metrics: rt.Metrics.Tree,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tree engine: %w", err)
	}

	rt.Shares, err = share.NewRegistry(rt.Metadata, share.Config{
		Secret:   secret,
		Validity: cfg.Share.Validity,
		KeyBytes: cfg.Share.KeyBytes,
		RateLimit: ratelimiter.Config{
			RequestsPerSecond: cfg.Share.RateLimit.RequestsPerSecond,
			Burst:             cfg.Share.RateLimit.Burst,
			IdleTTL:           cfg.Share.RateLimit.IdleTTL,
		},
		Metrics: rt.Metrics.Share,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create share registry: %w", err)
	}

	decrypter, err := CreateDecrypter(cfg)
	if err != nil {
		return nil, err
	}
	rt.Exporter, err = archive.NewExporter(rt.Metadata, rt.Content, archive.Config{
		Decrypter: decrypter,
		Level:     cfg.Archive.CompressionLevel,
		Metrics:   rt.Metrics.Archive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	if rt.Sink, err = CreateArchiveSink(ctx, &cfg.Archive.S3, rt.Exporter); err != nil {
		return nil, err
	}

	rt.Checker, err = fsck.NewChecker(rt.Metadata, rt.Content, fsck.Config{
		Enabled:  cfg.Check.Enabled,
		Interval: cfg.Check.Interval,
		Physical: cfg.Check.Physical,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checker: %w", err)
	}

	logger.Debug("Runtime initialized: metadata=%s metrics=%v s3_sink=%v",
		cfg.Metadata.Type, metrics.IsEnabled(), rt.Sink != nil)
	return rt, nil
}

// Health reports whether the metadata store answers a read transaction.
func (r *Runtime) Health(ctx context.Context) error {
	if r.Metadata == nil {
		return errors.New("metadata store not initialized")
	}
	return r.Metadata.View(ctx, func(tx metadata.Tx) error {
		_, err := tx.ListAccounts()
		return err
	})
}

// Close stops the checker and closes the metadata store.
func (r *Runtime) Close(ctx context.Context) error {
	if r.Checker != nil {
		if err := r.Checker.Stop(ctx); err != nil {
			logger.Warn("Checker did not stop cleanly: %v", err)
		}
	}
	if r.Metadata != nil {
		if err := r.Metadata.Close(); err != nil {
			return fmt.Errorf("failed to close metadata store: %w", err)
		}
	}
	return nil
}
