package imports

import (
	"fmt"
	"time"

	"Agora/internal/config"
)

// Config holds the import buffer's tuning knobs.
type Config struct {
	// FlushInterval is the delay between flush cycles.
	FlushInterval time.Duration

	// ItemTimeout bounds one pipeline run, including the remote fetch.
	ItemTimeout time.Duration

	// MaxBackoff caps the delay after consecutive failed flushes.
	MaxBackoff time.Duration

	// MaxFileSize is the per-file limit for CSV uploads, in bytes.
	MaxFileSize int64

	// BatchSize is the maximum number of imports popped per cycle.
	BatchSize int

	// Concurrency bounds pipelines running at once within a flush.
	Concurrency int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		FlushInterval: time.Second,
		ItemTimeout:   5 * time.Minute,
		MaxBackoff:    30 * time.Second,
		MaxFileSize:   50 << 20,
		BatchSize:     10,
		Concurrency:   5,
	}
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - IMPORT_FLUSH_INTERVAL (default: 1s)
//   - IMPORT_ITEM_TIMEOUT (default: 5m)
//   - IMPORT_BATCH_SIZE (default: 10)
//   - IMPORT_CONCURRENCY (default: 5)
//   - IMPORT_MAX_FILE_SIZE_MB (default: 50)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = config.Duration("IMPORT-BUFFER", "IMPORT_FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.ItemTimeout = config.Duration("IMPORT-BUFFER", "IMPORT_ITEM_TIMEOUT", cfg.ItemTimeout)
	cfg.BatchSize = config.Int("IMPORT-BUFFER", "IMPORT_BATCH_SIZE", cfg.BatchSize)
	cfg.Concurrency = config.Int("IMPORT-BUFFER", "IMPORT_CONCURRENCY", cfg.Concurrency)
	cfg.MaxFileSize = int64(config.Int("IMPORT-BUFFER", "IMPORT_MAX_FILE_SIZE_MB", int(cfg.MaxFileSize>>20))) << 20
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
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxFileSize, c.MaxFileSize)
	}
	return nil
}
