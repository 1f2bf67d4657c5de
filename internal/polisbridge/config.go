package polisbridge

import (
	"fmt"
	"net/url"
	"time"

	"Agora/internal/config"
)

// Config holds the bridge client settings.
type Config struct {
	BaseURL string

	// Timeout bounds a single HTTP attempt. The caller's context bounds the
	// whole call including retries.
	Timeout time.Duration

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond and Burst throttle outbound calls across all
	// goroutines sharing the client.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the defaults. BaseURL has no default.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RetryMax:          3,
		RetryWaitMin:      500 * time.Millisecond,
		RetryWaitMax:      5 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ConfigFromEnv reads MATH_BRIDGE_URL, MATH_BRIDGE_TIMEOUT,
// MATH_BRIDGE_RETRY_MAX and MATH_BRIDGE_RPS.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = config.String("MATH_BRIDGE_URL", "")
	cfg.Timeout = config.Duration("BRIDGE", "MATH_BRIDGE_TIMEOUT", cfg.Timeout)
	cfg.RetryMax = config.Int("BRIDGE", "MATH_BRIDGE_RETRY_MAX", cfg.RetryMax)
	cfg.RequestsPerSecond = float64(config.Int("BRIDGE", "MATH_BRIDGE_RPS", int(cfg.RequestsPerSecond)))
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: got %q", ErrMissingBaseURL, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTimeout, c.Timeout)
	}
	if c.RequestsPerSecond <= 0 || c.Burst <= 0 {
		return fmt.Errorf("%w: got %v/s burst %d", ErrInvalidRateLimit, c.RequestsPerSecond, c.Burst)
	}
	return nil
}
