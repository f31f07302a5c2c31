package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/archive"
	"github.com/marmos91/dittodisk/pkg/metrics"
	"github.com/marmos91/dittodisk/pkg/store/content"
	contentfs "github.com/marmos91/dittodisk/pkg/store/content/fs"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/badger"
	"github.com/marmos91/dittodisk/pkg/store/metadata/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateContentStore creates the filesystem content store holding both the
// live and the recycle area.
func CreateContentStore(ctx context.Context, cfg *StorageConfig) (content.ContentStore, error) {
	store, err := contentfs.NewFSContentStore(ctx, contentfs.Config{
		LiveRoot:    cfg.LiveRoot,
		RecycleRoot: cfg.RecycleRoot,
		ChunkSize:   cfg.ChunkSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	logger.Info("Content store initialized: live=%s, recycle=%s", cfg.LiveRoot, cfg.RecycleRoot)
	return store, nil
}

// CreateMetadataStore creates a metadata store based on configuration.
//
// This factory function uses the Type field to determine which store implementation
// to create, then decodes the type-specific configuration from the corresponding
// map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/metadata/memory (in-memory storage, ephemeral)
//   - "badger": Uses pkg/store/metadata/badger (BadgerDB storage, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Metadata store configuration
//   - m: Transaction metrics (nil disables collection)
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig, m metrics.MetadataMetrics) (metadata.MetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return memory.NewMemoryMetadataStore(memory.MemoryMetadataStoreConfig{Metrics: m}), nil
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Badger, m)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerMetadataStore creates a BadgerDB-based persistent metadata store.
func createBadgerMetadataStore(ctx context.Context, options map[string]any, m metrics.MetadataMetrics) (metadata.MetadataStore, error) {
	var storeCfg badger.BadgerMetadataStoreConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &storeCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger metadata store options: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, errors.New("badger metadata store: db_path is required")
	}
	storeCfg.Metrics = m

	store, err := badger.NewBadgerMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
	}

	logger.Info("Badger metadata store opened: path=%s in_memory=%v", storeCfg.DBPath, storeCfg.InMemory)
	return store, nil
}

// SeedRoleLimits writes the configured role quotas into the store. Existing
// values are overwritten so configuration changes take effect on restart.
func SeedRoleLimits(ctx context.Context, store metadata.MetadataStore, cfg *QuotaConfig) error {
	return store.Update(ctx, func(tx metadata.Tx) error {
		for role, limit := range cfg.Roles {
			if err := tx.PutRoleLimit(role, metadata.LimitStorage, limit); err != nil {
				return fmt.Errorf("failed to seed role %q: %w", role, err)
			}
		}
		return nil
	})
}

// CreateDecrypter returns the export decrypter, or nil when decryption is
// disabled.
func CreateDecrypter(cfg *Config) (*archive.Decrypter, error) {
	if !cfg.Archive.Decrypt {
		return nil, nil
	}
	key, err := cfg.Security.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("archive: decrypt is enabled but security.encryption_key is empty")
	}
	return archive.NewDecrypter(key)
}

// NewS3Client builds an S3 client from the archive sink configuration.
func NewS3Client(ctx context.Context, cfg *ArchiveS3Config) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	// Static credentials if provided, otherwise the default credential chain
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// CreateArchiveSink creates the S3 archive sink, or returns nil when the
// sink is disabled.
func CreateArchiveSink(ctx context.Context, cfg *ArchiveS3Config, exporter *archive.Exporter) (*archive.S3Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sink, err := archive.NewS3Sink(client, exporter, archive.SinkConfig{
		Bucket:    cfg.Bucket,
		KeyPrefix: cfg.KeyPrefix,
		PartSize:  cfg.PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 archive sink: %w", err)
	}

	logger.Info("S3 archive sink initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return sink, nil
}
