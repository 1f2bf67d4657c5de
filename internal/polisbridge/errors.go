package polisbridge

import "errors"

var (
	// ErrMissingBaseURL indicates the bridge URL was not configured
	ErrMissingBaseURL = errors.New("math bridge url is required")

	// ErrInvalidTimeout indicates a non-positive request timeout
	ErrInvalidTimeout = errors.New("bridge timeout must be positive")

	// ErrInvalidRateLimit indicates a non-positive request rate or burst
	ErrInvalidRateLimit = errors.New("bridge rate limit must be positive")

	// ErrUnexpectedStatus is returned when the bridge answers with a status
	// the caller does not handle. The wrapped message carries the code.
	ErrUnexpectedStatus = errors.New("unexpected bridge response status")

	// ErrResponseTooLarge is returned when a response body exceeds the read
	// cap. The body is discarded rather than decoded in part.
	ErrResponseTooLarge = errors.New("bridge response too large")
)
