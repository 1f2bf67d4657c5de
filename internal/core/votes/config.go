package votes

import (
	"fmt"
	"time"

	"Agora/internal/config"
)

// Config holds the vote buffer's tuning knobs.
type Config struct {
	// FlushInterval is the delay between flush cycles.
	FlushInterval time.Duration

	// BatchLimit is the maximum number of queued votes popped per cycle.
	BatchLimit int

	// TxChunkSize caps the number of votes written per transaction.
	TxChunkSize int

	// MathConcurrency bounds simultaneous consensus recomputations.
	MathConcurrency int

	// MathTimeout bounds a single recomputation, including loading votes.
	MathTimeout time.Duration

	// MaxBackoff caps the delay after consecutive failed flushes.
	MaxBackoff time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		FlushInterval:   time.Second,
		BatchLimit:      1000,
		TxChunkSize:     5000,
		MathConcurrency: 4,
		MathTimeout:     30 * time.Second,
		MaxBackoff:      30 * time.Second,
	}
}

// ConfigFromEnv creates a Config from environment variables.
//
// Environment variables:
//   - VOTE_FLUSH_INTERVAL (default: 1s)
//   - VOTE_BATCH_LIMIT (default: 1000)
//   - VOTE_TX_CHUNK_SIZE (default: 5000)
//   - VOTE_MATH_CONCURRENCY (default: 4)
//   - VOTE_MATH_TIMEOUT (default: 30s)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = config.Duration("VOTE-BUFFER", "VOTE_FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.BatchLimit = config.Int("VOTE-BUFFER", "VOTE_BATCH_LIMIT", cfg.BatchLimit)
	cfg.TxChunkSize = config.Int("VOTE-BUFFER", "VOTE_TX_CHUNK_SIZE", cfg.TxChunkSize)
	cfg.MathConcurrency = config.Int("VOTE-BUFFER", "VOTE_MATH_CONCURRENCY", cfg.MathConcurrency)
	cfg.MathTimeout = config.Duration("VOTE-BUFFER", "VOTE_MATH_TIMEOUT", cfg.MathTimeout)
	return cfg
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFlushInterval, c.FlushInterval)
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchLimit, c.BatchLimit)
	}
	if c.TxChunkSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, c.TxChunkSize)
	}
	if c.MathConcurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMathConcurrency, c.MathConcurrency)
	}
	return nil
}
