package reaper

import (
	"fmt"
	"time"

	"Agora/internal/config"
)

// Config holds the reaper's schedule.
type Config struct {
	// Interval is the delay between reaper passes.
	Interval time.Duration

	// Threshold is how long a job may stay processing before it is failed.
	Threshold time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Hour,
		Threshold: time.Hour,
	}
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - REAPER_INTERVAL (default: 1h)
//   - REAPER_THRESHOLD (default: 1h)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.Interval = config.Duration("REAPER", "REAPER_INTERVAL", cfg.Interval)
	cfg.Threshold = config.Duration("REAPER", "REAPER_THRESHOLD", cfg.Threshold)
	return cfg
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, c.Interval)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.Threshold)
	}
	return nil
}
