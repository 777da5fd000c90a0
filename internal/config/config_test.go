// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CompressionLevel != 3 {
		t.Errorf("default compression level = %d", cfg.CompressionLevel)
	}
	if cfg.Scope != "default" {
		t.Errorf("default scope = %q", cfg.Scope)
	}
	if filepath.Base(cfg.DatabasePath) != "rewind.db" {
		t.Errorf("database path = %q", cfg.DatabasePath)
	}

	// The data dir was created.
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dataDir := filepath.Join(home, ".rewind")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	yaml := "scope: project-x\ncompression_level: 9\nevent_port: 9000\n"
	if err := os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scope != "project-x" || cfg.CompressionLevel != 9 || cfg.EventPort != 9000 {
		t.Errorf("config file not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dataDir := filepath.Join(home, ".rewind")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte("{not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Error("Load accepted malformed config.yaml")
	}
}
