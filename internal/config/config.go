// Package config holds engine configuration: the YAML-loaded daemon settings
// and the per-scan feature tree with its preset resolution rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds engine and daemon configuration.
type Config struct {
	// Paths
	StateDir string `yaml:"state_dir"`
	DataDir  string `yaml:"data_dir"` // object-store root for reports

	// Storage
	StorageEnabled bool `yaml:"storage_enabled"`
	HistoryLimit   int  `yaml:"history_limit"`

	// Scheduler
	CronSpec    string `yaml:"cron_spec"`
	Concurrency int    `yaml:"concurrency"`

	// Scan behavior
	Behavior string `yaml:"behavior"` // "", passive, stealth, aggressive

	// Rate limiting between stages
	RateLimitEnabled bool `yaml:"rate_limit_enabled"`
	DelayBetweenMs   int  `yaml:"delay_between_stages_ms"`

	// Sessions (web UI)
	SessionDSN             string `yaml:"session_dsn"` // Postgres connection string; empty = in-memory
	SessionCleanupMinutes  int    `yaml:"session_cleanup_minutes"`
	SessionDurationMinutes int    `yaml:"session_duration_minutes"`

	// Alerting
	AlertWebhookURL string `yaml:"alert_webhook_url"`
	AlertAPIKey     string `yaml:"alert_api_key"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns a config with sane defaults.
func Default() Config {
	return Config{
		StateDir:               "/var/lib/recon",
		DataDir:                "/var/lib/recon/data",
		StorageEnabled:         true,
		HistoryLimit:           30,
		CronSpec:               "0 */6 * * *",
		Concurrency:            3,
		RateLimitEnabled:       false,
		DelayBetweenMs:         0,
		SessionCleanupMinutes:  60,
		SessionDurationMinutes: 24 * 60,
		LogLevel:               "INFO",
	}
}

// Load reads configuration from a YAML file with env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Environment variable overrides
	if v := os.Getenv("RECON_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("RECON_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RECON_SESSION_DSN"); v != "" {
		cfg.SessionDSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}

	// Validate and clamp
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.StateDir, "data")
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 1
	}
	if cfg.HistoryLimit > 500 {
		cfg.HistoryLimit = 500
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency > 32 {
		cfg.Concurrency = 32
	}
	if cfg.Behavior != "" && !IsPreset(cfg.Behavior) {
		return nil, fmt.Errorf("unknown behavior %q (want passive, stealth, or aggressive)", cfg.Behavior)
	}

	return &cfg, nil
}

// RecordDBPath returns the SQLite records database path.
func (c *Config) RecordDBPath() string {
	return filepath.Join(c.StateDir, "records.db")
}

// TargetsPath returns the persisted target list path.
func (c *Config) TargetsPath() string {
	return filepath.Join(c.StateDir, "targets.json")
}
