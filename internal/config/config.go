// Package config loads the suite configuration from a YAML file, falling
// back to defaults when no file exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"crucible/pkg/logging"
)

const (
	userConfigDir  = ".config/crucible"
	configFileName = "config.yaml"
)

// Config is the top-level suite configuration.
type Config struct {
	// Timeout is the default per-test timeout
	Timeout time.Duration
	// FailFast stops the suite at the first FAILED or ERROR result
	FailFast bool
	// Verbose enables info-level logging
	Verbose bool
	// Debug enables debug-level logging
	Debug bool
	// Tags filter the suite to tests carrying any of these tags
	Tags []string
	// ReportPath is where the JSON report is written; empty disables it
	ReportPath string
	// HistoryPath is the SQLite performance-history database; empty keeps
	// history in memory
	HistoryPath string
	// MonitorInterval between background metric samples
	MonitorInterval time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Timeout:         30 * time.Second,
		MonitorInterval: time.Second,
	}
}

// DefaultConfigPathOrPanic returns the per-user configuration directory.
func DefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// fileConfig is the on-disk shape; durations are strings parsed with
// time.ParseDuration.
type fileConfig struct {
	Timeout         string   `yaml:"timeout,omitempty"`
	FailFast        *bool    `yaml:"failFast,omitempty"`
	Verbose         *bool    `yaml:"verbose,omitempty"`
	Debug           *bool    `yaml:"debug,omitempty"`
	Tags            []string `yaml:"tags,omitempty"`
	ReportPath      string   `yaml:"reportPath,omitempty"`
	HistoryPath     string   `yaml:"historyPath,omitempty"`
	MonitorInterval string   `yaml:"monitorInterval,omitempty"`
}

// Load reads config.yaml from the given directory. A missing file yields
// the defaults; a malformed file is an error.
func Load(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := Default()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return cfg, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return cfg, nil
}

func (raw *fileConfig) apply(cfg *Config) error {
	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if raw.MonitorInterval != "" {
		interval, err := time.ParseDuration(raw.MonitorInterval)
		if err != nil {
			return fmt.Errorf("invalid monitorInterval: %w", err)
		}
		cfg.MonitorInterval = interval
	}
	if raw.FailFast != nil {
		cfg.FailFast = *raw.FailFast
	}
	if raw.Verbose != nil {
		cfg.Verbose = *raw.Verbose
	}
	if raw.Debug != nil {
		cfg.Debug = *raw.Debug
	}
	if len(raw.Tags) > 0 {
		cfg.Tags = raw.Tags
	}
	if raw.ReportPath != "" {
		cfg.ReportPath = raw.ReportPath
	}
	if raw.HistoryPath != "" {
		cfg.HistoryPath = raw.HistoryPath
	}
	return nil
}
