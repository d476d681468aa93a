package router

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config mirrors node.Config's shape: a flat, JSON-tagged struct with a
// defaults constructor and a single validating entry point.
type Config struct {
	DataDir string `json:"data_dir"`

	// StampCostOutbound is the default proof-of-work cost requested for
	// PROPAGATED messages when the active node's own cost cannot be
	// determined in advance.
	StampCostOutbound int `json:"stamp_cost_outbound"`

	// StampWorkers bounds how many goroutines search for a qualifying
	// stamp concurrently.
	StampWorkers int `json:"stamp_workers"`

	// OpportunisticMaxAttempts and OpportunisticBackoffSeconds configure
	// the bounded OPPORTUNISTIC retry cadence.
	OpportunisticMaxAttempts   int   `json:"opportunistic_max_attempts"`
	OpportunisticBackoffSeconds []int `json:"opportunistic_backoff_seconds"`

	// SyncDeadlineSeconds bounds a single RequestMessages call end to end.
	SyncDeadlineSeconds int `json:"sync_deadline_seconds"`

	LogLevel string `json:"log_level"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".lxmf"
	}
	return filepath.Join(home, ".lxmf")
}

func DefaultConfig() Config {
	return Config{
		DataDir:                     DefaultDataDir(),
		StampCostOutbound:           8,
		StampWorkers:                2,
		OpportunisticMaxAttempts:    3,
		OpportunisticBackoffSeconds: []int{4, 8, 16},
		SyncDeadlineSeconds:         30,
		LogLevel:                    "info",
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if cfg.StampCostOutbound < 0 {
		return errors.New("stamp_cost_outbound must be >= 0")
	}
	if cfg.StampWorkers <= 0 {
		return errors.New("stamp_workers must be > 0")
	}
	if cfg.OpportunisticMaxAttempts <= 0 {
		return errors.New("opportunistic_max_attempts must be > 0")
	}
	if len(cfg.OpportunisticBackoffSeconds) != 0 && len(cfg.OpportunisticBackoffSeconds) < cfg.OpportunisticMaxAttempts-1 {
		return fmt.Errorf("opportunistic_backoff_seconds must cover max_attempts-1 retries, got %d for %d attempts", len(cfg.OpportunisticBackoffSeconds), cfg.OpportunisticMaxAttempts)
	}
	if cfg.SyncDeadlineSeconds <= 0 {
		return errors.New("sync_deadline_seconds must be > 0")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	return nil
}
