package exports

import (
	"fmt"
	"time"

	"Agora/internal/config"
)

// Config holds the export buffer's tuning knobs.
type Config struct {
	// FlushInterval is the delay between flush cycles.
	FlushInterval time.Duration

	// Cooldown is the minimum time between completed exports of the same
	// conversation, measured from completion. Zero disables it.
	Cooldown time.Duration

	// URLTTL is how long presigned download URLs stay valid.
	URLTTL time.Duration

	// ItemTimeout bounds generating and uploading one export.
	ItemTimeout time.Duration

	// SweepInterval is the delay between expiry sweeps.
	SweepInterval time.Duration

	// MaxBackoff caps the delay after consecutive failed flushes.
	MaxBackoff time.Duration

	// ExpiryDays is how long completed exports are kept.
	ExpiryDays int

	// BatchSize is the maximum number of exports taken per cycle.
	BatchSize int

	// Concurrency bounds exports generated at once within a flush.
	Concurrency int

	// HistoryLimit caps History results.
	HistoryLimit int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		FlushInterval: time.Second,
		Cooldown:      300 * time.Second,
		URLTTL:        time.Hour,
		ItemTimeout:   5 * time.Minute,
		SweepInterval: time.Hour,
		MaxBackoff:    30 * time.Second,
		ExpiryDays:    30,
		BatchSize:     5,
		Concurrency:   3,
		HistoryLimit:  7,
	}
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - EXPORT_FLUSH_INTERVAL (default: 1s)
//   - EXPORT_BATCH_SIZE (default: 5)
//   - EXPORT_CONCURRENCY (default: 3)
//   - EXPORT_COOLDOWN (default: 300s)
//   - EXPORT_URL_TTL (default: 1h)
//   - EXPORT_EXPIRY_DAYS (default: 30)
//   - EXPORT_SWEEP_INTERVAL (default: 1h)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = config.Duration("EXPORT-BUFFER", "EXPORT_FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.BatchSize = config.Int("EXPORT-BUFFER", "EXPORT_BATCH_SIZE", cfg.BatchSize)
	cfg.Concurrency = config.Int("EXPORT-BUFFER", "EXPORT_CONCURRENCY", cfg.Concurrency)
	cfg.Cooldown = config.DurationOrZero("EXPORT-BUFFER", "EXPORT_COOLDOWN", cfg.Cooldown)
	cfg.URLTTL = config.Duration("EXPORT-BUFFER", "EXPORT_URL_TTL", cfg.URLTTL)
	cfg.ExpiryDays = config.Int("EXPORT-BUFFER", "EXPORT_EXPIRY_DAYS", cfg.ExpiryDays)
	cfg.SweepInterval = config.Duration("EXPORT-BUFFER", "EXPORT_SWEEP_INTERVAL", cfg.SweepInterval)
	return cfg
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFlushInterval, c.FlushInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.Concurrency)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidCooldown, c.Cooldown)
	}
	// S3 rejects presigned URLs valid for more than a week.
	if c.URLTTL < time.Second || c.URLTTL > 7*24*time.Hour {
		return fmt.Errorf("%w: got %v", ErrInvalidURLTTL, c.URLTTL)
	}
	if c.ExpiryDays <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidExpiryDays, c.ExpiryDays)
	}
	return nil
}
