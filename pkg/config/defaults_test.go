package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stdout" {
		t.Errorf("Unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.Storage.LiveRoot == "" || cfg.Storage.RecycleRoot == "" {
		t.Error("Expected default storage roots")
	}
	if cfg.Storage.ChunkSize != 64*1024 {
		t.Errorf("Expected chunk size 64KB, got %d", cfg.Storage.ChunkSize)
	}
	if _, ok := cfg.Metadata.Badger["db_path"]; !ok {
		t.Error("Expected badger db_path default")
	}
	if cfg.Quota.DefaultRole != DefaultRole {
		t.Errorf("Expected default role %q, got %q", DefaultRole, cfg.Quota.DefaultRole)
	}
	if cfg.Share.KeyBytes != 3 {
		t.Errorf("Expected 3 key bytes, got %d", cfg.Share.KeyBytes)
	}
	if cfg.Share.RateLimit.RequestsPerSecond != 0 {
		t.Errorf("Expected unlimited share resolution by default")
	}
	if cfg.Archive.S3.PartSize != 10*1024*1024 {
		t.Errorf("Expected 10MB part size, got %d", cfg.Archive.S3.PartSize)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Check.Interval != time.Hour {
		t.Errorf("Expected check interval 1h, got %v", cfg.Check.Interval)
	}
	if cfg.Security.SecretKey != "" {
		t.Error("Secret key must never be defaulted")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "/var/log/dd.log"},
		Metadata: MetadataConfig{
			Type:   "badger",
			Badger: map[string]any{"db_path": "/data/meta"},
		},
		Quota: QuotaConfig{
			DefaultRole: "gold",
			Roles:       map[string]int64{"gold": 42},
		},
		Share: ShareConfig{Validity: time.Hour, KeyBytes: 5},
		Check: CheckConfig{Interval: time.Minute},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level normalized to WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "/var/log/dd.log" {
		t.Errorf("Output overwritten: %q", cfg.Logging.Output)
	}
	if cfg.Metadata.Badger["db_path"] != "/data/meta" {
		t.Errorf("db_path overwritten: %v", cfg.Metadata.Badger["db_path"])
	}
	if len(cfg.Quota.Roles) != 1 || cfg.Quota.Roles["gold"] != 42 {
		t.Errorf("Roles overwritten: %v", cfg.Quota.Roles)
	}
	if cfg.Share.Validity != time.Hour || cfg.Share.KeyBytes != 5 {
		t.Errorf("Share config overwritten: %+v", cfg.Share)
	}
	if cfg.Check.Interval != time.Minute {
		t.Errorf("Interval overwritten: %v", cfg.Check.Interval)
	}
}

func TestGetDefaultConfig_NeedsSecret(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err == nil {
		t.Fatal("Default config should not validate without a secret key")
	}

	cfg.Security.SecretKey = testSecret
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config with a secret should validate: %v", err)
	}
}
