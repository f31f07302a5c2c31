package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Security.SecretKey = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Security.SecretKey = "short" },
			wantErr: "SecretKey",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "unknown metadata type",
			mutate:  func(c *Config) { c.Metadata.Type = "postgres" },
			wantErr: "Type",
		},
		{
			name:    "default role without quota",
			mutate:  func(c *Config) { c.Quota.DefaultRole = "ghost" },
			wantErr: "default_role",
		},
		{
			name:    "negative quota",
			mutate:  func(c *Config) { c.Quota.Roles["member"] = -1 },
			wantErr: "Roles",
		},
		{
			name:    "key bytes too large",
			mutate:  func(c *Config) { c.Share.KeyBytes = 6 },
			wantErr: "KeyBytes",
		},
		{
			name:    "non-hex encryption key",
			mutate:  func(c *Config) { c.Security.EncryptionKey = "zz" },
			wantErr: "EncryptionKey",
		},
		{
			name:    "wrong encryption key length",
			mutate:  func(c *Config) { c.Security.EncryptionKey = "0011" },
			wantErr: "16, 24 or 32",
		},
		{
			name:    "decrypt without key",
			mutate:  func(c *Config) { c.Archive.Decrypt = true },
			wantErr: "encryption_key is empty",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Archive.S3.Enabled = true; c.Archive.S3.Region = "us-east-1" },
			wantErr: "Bucket",
		},
		{
			name:    "compression level out of range",
			mutate:  func(c *Config) { c.Archive.CompressionLevel = 10 },
			wantErr: "CompressionLevel",
		},
		{
			name:    "nested storage roots",
			mutate:  func(c *Config) { c.Storage.RecycleRoot = c.Storage.LiveRoot + "/bin" },
			wantErr: "must not overlap",
		},
		{
			name:    "same storage roots",
			mutate:  func(c *Config) { c.Storage.RecycleRoot = c.Storage.LiveRoot },
			wantErr: "must not overlap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_RedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Security.SecretKey = "hunter2"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Fatalf("Secret leaked into error: %v", err)
	}
}

func TestWithin(t *testing.T) {
	cases := []struct {
		p, dir string
		want   bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"/a", "/a/b", false},
		{"/x/y", "/a", false},
	}
	for _, c := range cases {
		if got := within(c.p, c.dir); got != c.want {
			t.Errorf("within(%q, %q) = %v, want %v", c.p, c.dir, got, c.want)
		}
	}
}
