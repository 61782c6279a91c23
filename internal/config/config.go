// Package config provides configuration management for docingest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the configuration for the docingest CLI and the batch
// orchestrator it drives.
//
// Config file location:
//   - Windows: %USERPROFILE%\.config\docingest\config
//   - Unix: ~/.config/docingest/config
//
// INI format:
//
//	[server]
//	url = https://dashboard.example.com
//	api_key = <token>
//
//	[ingest]
//	poll_interval_ms = 750
//	poll_attempt_ceiling = 300
//	transfer_timeout_floor_s = 30
//	transfer_timeout_ceiling_s = 600
//	progress_throttle_ms = 100
//	on_poll_exhausted = forced-success
type Config struct {
	// Server connection settings
	ServerURL string `ini:"url"`
	APIKey    string `ini:"api_key"`

	// Batch ingestion settings
	Ingest IngestConfig
}

// Exhaustion policies for the processing poll loop. The poll loop gives up
// after the attempt ceiling; forced-success marks the item successful with a
// degraded-confidence message, timeout-error marks it failed.
const (
	ExhaustForcedSuccess = "forced-success"
	ExhaustTimeoutError  = "timeout-error"
)

// IngestConfig contains settings for the batch ingestion orchestrator.
type IngestConfig struct {
	// PollIntervalMS is the interval between processing status polls.
	// Default: 750
	PollIntervalMS int `ini:"poll_interval_ms"`

	// PollAttemptCeiling bounds the number of status polls per item.
	// Default: 300 (~4 minutes at the default interval)
	PollAttemptCeiling int `ini:"poll_attempt_ceiling"`

	// TransferTimeoutFloorS and TransferTimeoutCeilingS clamp the
	// size-scaled transfer timeout.
	// Defaults: 30 and 600
	TransferTimeoutFloorS   int `ini:"transfer_timeout_floor_s"`
	TransferTimeoutCeilingS int `ini:"transfer_timeout_ceiling_s"`

	// ProgressThrottleMS limits how often transfer progress events are
	// emitted per item. The 0% and 100% events are always emitted.
	// Default: 100
	ProgressThrottleMS int `ini:"progress_throttle_ms"`

	// OnPollExhausted selects what happens when the attempt ceiling is
	// reached without a terminal server status.
	// Default: forced-success
	OnPollExhausted string `ini:"on_poll_exhausted"`
}

// Validation errors
var (
	ErrMissingServerURL       = errors.New("server url is required")
	ErrMissingAPIKey          = errors.New("api_key is required")
	ErrInvalidPollInterval    = errors.New("poll_interval_ms must be between 100 and 60000")
	ErrInvalidAttemptCeiling  = errors.New("poll_attempt_ceiling must be between 1 and 10000")
	ErrInvalidTimeoutBounds   = errors.New("transfer_timeout_floor_s must be positive and not exceed transfer_timeout_ceiling_s")
	ErrInvalidExhaustedPolicy = errors.New("on_poll_exhausted must be forced-success or timeout-error")
)

// DefaultConfigPath returns the default path for the config file.
func DefaultConfigPath() (string, error) {
	var configDir string

	if runtime.GOOS == "windows" {
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("USERPROFILE environment variable not set")
		}
		configDir = filepath.Join(userProfile, ".config", "docingest")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "docingest")
	}

	return filepath.Join(configDir, "config"), nil
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			PollIntervalMS:          750,
			PollAttemptCeiling:      300,
			TransferTimeoutFloorS:   30,
			TransferTimeoutCeilingS: 600,
			ProgressThrottleMS:      100,
			OnPollExhausted:         ExhaustForcedSuccess,
		},
	}
}

// Load loads configuration from an INI file.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	serverSection := iniFile.Section("server")
	cfg.ServerURL = serverSection.Key("url").String()
	cfg.APIKey = serverSection.Key("api_key").String()

	ingestSection := iniFile.Section("ingest")
	cfg.Ingest.PollIntervalMS = ingestSection.Key("poll_interval_ms").MustInt(cfg.Ingest.PollIntervalMS)
	cfg.Ingest.PollAttemptCeiling = ingestSection.Key("poll_attempt_ceiling").MustInt(cfg.Ingest.PollAttemptCeiling)
	cfg.Ingest.TransferTimeoutFloorS = ingestSection.Key("transfer_timeout_floor_s").MustInt(cfg.Ingest.TransferTimeoutFloorS)
	cfg.Ingest.TransferTimeoutCeilingS = ingestSection.Key("transfer_timeout_ceiling_s").MustInt(cfg.Ingest.TransferTimeoutCeilingS)
	cfg.Ingest.ProgressThrottleMS = ingestSection.Key("progress_throttle_ms").MustInt(cfg.Ingest.ProgressThrottleMS)
	cfg.Ingest.OnPollExhausted = ingestSection.Key("on_poll_exhausted").MustString(cfg.Ingest.OnPollExhausted)

	return cfg, nil
}

// Save saves configuration to an INI file.
// Creates parent directories if they don't exist. The API key is stored in
// the file, so the file is written with restrictive permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	serverSection, err := iniFile.NewSection("server")
	if err != nil {
		return fmt.Errorf("failed to create server section: %w", err)
	}
	serverSection.Key("url").SetValue(cfg.ServerURL)
	serverSection.Key("api_key").SetValue(cfg.APIKey)

	ingestSection, err := iniFile.NewSection("ingest")
	if err != nil {
		return fmt.Errorf("failed to create ingest section: %w", err)
	}
	ingestSection.Key("poll_interval_ms").SetValue(fmt.Sprintf("%d", cfg.Ingest.PollIntervalMS))
	ingestSection.Key("poll_attempt_ceiling").SetValue(fmt.Sprintf("%d", cfg.Ingest.PollAttemptCeiling))
	ingestSection.Key("transfer_timeout_floor_s").SetValue(fmt.Sprintf("%d", cfg.Ingest.TransferTimeoutFloorS))
	ingestSection.Key("transfer_timeout_ceiling_s").SetValue(fmt.Sprintf("%d", cfg.Ingest.TransferTimeoutCeilingS))
	ingestSection.Key("progress_throttle_ms").SetValue(fmt.Sprintf("%d", cfg.Ingest.ProgressThrottleMS))
	ingestSection.Key("on_poll_exhausted").SetValue(cfg.Ingest.OnPollExhausted)

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is usable for running a batch.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateForConnection(); err != nil {
		return err
	}
	if cfg.Ingest.PollIntervalMS < 100 || cfg.Ingest.PollIntervalMS > 60000 {
		return ErrInvalidPollInterval
	}
	if cfg.Ingest.PollAttemptCeiling < 1 || cfg.Ingest.PollAttemptCeiling > 10000 {
		return ErrInvalidAttemptCeiling
	}
	if cfg.Ingest.TransferTimeoutFloorS < 1 ||
		cfg.Ingest.TransferTimeoutFloorS > cfg.Ingest.TransferTimeoutCeilingS {
		return ErrInvalidTimeoutBounds
	}
	switch cfg.Ingest.OnPollExhausted {
	case ExhaustForcedSuccess, ExhaustTimeoutError:
	default:
		return ErrInvalidExhaustedPolicy
	}
	return nil
}

// ValidateForConnection checks only the connection settings.
func (cfg *Config) ValidateForConnection() error {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return ErrMissingServerURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c *IngestConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ProgressThrottle returns the progress emission throttle as a duration.
func (c *IngestConfig) ProgressThrottle() time.Duration {
	return time.Duration(c.ProgressThrottleMS) * time.Millisecond
}

// TransferTimeoutFloor returns the minimum transfer timeout.
func (c *IngestConfig) TransferTimeoutFloor() time.Duration {
	return time.Duration(c.TransferTimeoutFloorS) * time.Second
}

// TransferTimeoutCeiling returns the maximum transfer timeout.
func (c *IngestConfig) TransferTimeoutCeiling() time.Duration {
	return time.Duration(c.TransferTimeoutCeilingS) * time.Second
}
