package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file was not created at %s", configPath)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	for _, section := range []string{
		"# DittoDisk Configuration File",
		"logging:",
		"storage:",
		"metadata:",
		"security:",
		"quota:",
		"share:",
		"archive:",
		"metrics:",
		"check:",
	} {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	// The generated file must load and validate as is.
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if len(cfg.Security.SecretKey) != 64 {
		t.Errorf("Expected a 32-byte hex secret, got %d chars", len(cfg.Security.SecretKey))
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("First InitConfigToPath failed: %v", err)
	}
	first, _ := Load(path)

	if err := InitConfigToPath(path, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}
	second, err := Load(path)
	if err != nil {
		t.Fatalf("Overwritten config does not load: %v", err)
	}

	if first != nil && first.Security.SecretKey == second.Security.SecretKey {
		t.Error("Expected a fresh secret key after overwrite")
	}
}
