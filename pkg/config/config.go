package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoDisk configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTODISK_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// The metadata section carries one map per store type (metadata.memory,
// metadata.badger); only the map matching metadata.type is decoded, by the
// factory for that store.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage locates the live and recycle content areas
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Metadata specifies the metadata store type and type-specific configuration
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Security holds the signing and encryption keys
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Quota maps roles to storage limits
	Quota QuotaConfig `mapstructure:"quota" yaml:"quota"`

	// Share configures share links
	Share ShareConfig `mapstructure:"share" yaml:"share"`

	// Archive configures folder export
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Check configures the periodic consistency checker
	Check CheckConfig `mapstructure:"check" yaml:"check"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig locates the two physical content roots.
type StorageConfig struct {
	// LiveRoot holds content of live entities
	LiveRoot string `mapstructure:"live_root" yaml:"live_root" validate:"required"`

	// RecycleRoot holds recycled subtrees
	RecycleRoot string `mapstructure:"recycle_root" yaml:"recycle_root" validate:"required"`

	// ChunkSize is the copy buffer for streamed uploads in bytes
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gte=0"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// SecurityConfig holds key material.
type SecurityConfig struct {
	// SecretKey signs share tokens and derives per-user root tokens.
	// Changing it orphans every provisioned account.
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" validate:"required,min=16"`

	// EncryptionKey is the hex AES key used to decrypt content on export.
	// Empty disables decryption.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key" validate:"omitempty,hexadecimal"`
}

// EncryptionKeyBytes decodes EncryptionKey. It returns nil when unset.
func (c SecurityConfig) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("security.encryption_key: AES key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}

// QuotaConfig maps roles to their storage limit in bytes.
type QuotaConfig struct {
	// DefaultRole is assigned to accounts provisioned without one
	DefaultRole string `mapstructure:"default_role" yaml:"default_role" validate:"required"`

	// Roles maps a role name to its storage limit in bytes
	Roles map[string]int64 `mapstructure:"roles" yaml:"roles" validate:"required,min=1,dive,gte=0"`
}

// ShareConfig configures share links.
type ShareConfig struct {
	// Validity is the lifetime of a new link
	Validity time.Duration `mapstructure:"validity" yaml:"validity" validate:"gt=0"`

	// KeyBytes is the random key length; keys are twice as long in hex
	KeyBytes int `mapstructure:"key_bytes" yaml:"key_bytes" validate:"min=2,max=5"`

	// RateLimit throttles resolutions per caller origin
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-origin token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate; zero disables limiting
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the bucket capacity
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	// IdleTTL drops buckets unused for this long
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl" validate:"gte=0"`
}

// ArchiveConfig configures folder export.
type ArchiveConfig struct {
	// Decrypt decrypts content with security.encryption_key on export
	Decrypt bool `mapstructure:"decrypt" yaml:"decrypt"`

	// CompressionLevel is the deflate level (-2 to 9, 0 selects the default)
	CompressionLevel int `mapstructure:"compression_level" yaml:"compression_level" validate:"min=-2,max=9"`

	// S3 configures off-site archive upload
	S3 ArchiveS3Config `mapstructure:"s3" yaml:"s3"`
}

// ArchiveS3Config configures the S3 archive sink.
type ArchiveS3Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Region string `mapstructure:"region" yaml:"region" validate:"required_if=Enabled true"`

	Bucket string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`

	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// Endpoint overrides the S3 endpoint (MinIO, Localstack); enables
	// path-style addressing
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`

	// AccessKeyID and SecretAccessKey select static credentials; empty
	// uses the default AWS credential chain
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`

	// PartSize is the multipart part size in bytes
	PartSize int64 `mapstructure:"part_size" yaml:"part_size" validate:"gte=0"`

	// MaxRetries is the number of attempts for transient failures
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Port int `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

// CheckConfig configures periodic consistency checks.
type CheckConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// Physical also verifies content presence and sizes
	Physical bool `mapstructure:"physical" yaml:"physical"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys lists every scalar key so AutomaticEnv can override keys that are
// absent from the config file.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout",
	"storage.live_root", "storage.recycle_root", "storage.chunk_size",
	"metadata.type",
	"security.secret_key", "security.encryption_key",
	"quota.default_role",
	"share.validity", "share.key_bytes",
	"share.rate_limit.requests_per_second", "share.rate_limit.burst", "share.rate_limit.idle_ttl",
	"archive.decrypt", "archive.compression_level",
	"archive.s3.enabled", "archive.s3.region", "archive.s3.bucket", "archive.s3.key_prefix",
	"archive.s3.endpoint", "archive.s3.access_key_id", "archive.s3.secret_access_key",
	"archive.s3.part_size", "archive.s3.max_retries",
	"metrics.enabled", "metrics.port",
	"check.enabled", "check.interval", "check.physical",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTODISK_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTODISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittodisk/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodisk")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodisk")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
