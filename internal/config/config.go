// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the service's paths and tuning knobs. Values come from
// <dataDir>/config.yaml when present, with defaults otherwise.
type Config struct {
	DataDir       string `yaml:"data_dir"`
	DatabasePath  string `yaml:"database_path"`
	SnapshotDir   string `yaml:"snapshot_dir"`
	WorkspaceRoot string `yaml:"workspace_root"`
	Scope         string `yaml:"scope"`

	// CompressionLevel is the zstd level for stored snapshots.
	CompressionLevel int `yaml:"compression_level"`

	// EventPort is the websocket event-push port in serve mode.
	EventPort int `yaml:"event_port"`
}

// Load resolves the data directory, reads config.yaml if it exists and
// ensures the directories the service writes to are present.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(home, ".rewind")
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:          dataDir,
		DatabasePath:     filepath.Join(dataDir, "rewind.db"),
		SnapshotDir:      dataDir,
		WorkspaceRoot:    cwd,
		Scope:            "default",
		CompressionLevel: 3,
		EventPort:        7643,
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "config.yaml"))
	if err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, dir := range []string{cfg.DataDir, cfg.SnapshotDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
