package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittodisk/pkg/archive"
	"github.com/marmos91/dittodisk/pkg/share"
)

// DefaultRole is the role assigned when the configuration names none.
const DefaultRole = "member"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
//   - security.secret_key is never defaulted
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyMetadataDefaults(&cfg.Metadata)
	applyQuotaDefaults(&cfg.Quota)
	applyShareDefaults(&cfg.Share)
	applyArchiveDefaults(&cfg.Archive)
	applyMetricsDefaults(&cfg.Metrics)
	applyCheckDefaults(&cfg.Check)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	base := filepath.Join("/tmp", "dittodisk")
	if cfg.LiveRoot == "" {
		cfg.LiveRoot = filepath.Join(base, "live")
	}
	if cfg.RecycleRoot == "" {
		cfg.RecycleRoot = filepath.Join(base, "recycle")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * 1024
	}
}

// applyMetadataDefaults sets metadata store defaults.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Filled for config file generation even when another type is selected
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join("/tmp", "dittodisk", "metadata")
	}
}

func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = DefaultRole
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = map[string]int64{
			DefaultRole: 10 << 30, // 10GiB
		}
	}
}

func applyShareDefaults(cfg *ShareConfig) {
	if cfg.Validity == 0 {
		cfg.Validity = share.DefaultValidity
	}
	if cfg.KeyBytes == 0 {
		cfg.KeyBytes = share.DefaultKeyBytes
	}
	// RequestsPerSecond defaults to 0 (unlimited)
	if cfg.RateLimit.IdleTTL == 0 {
		cfg.RateLimit.IdleTTL = 10 * time.Minute
	}
}

func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.S3.PartSize == 0 {
		cfg.S3.PartSize = archive.DefaultPartSize
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 10
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCheckDefaults(cfg *CheckConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// The returned config has no secret key and therefore does not validate
// until one is set.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
