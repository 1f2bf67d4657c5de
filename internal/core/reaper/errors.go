package reaper

import "errors"

var (
	// ErrInvalidInterval is returned when Interval is not positive
	ErrInvalidInterval = errors.New("Interval must be positive")

	// ErrInvalidThreshold is returned when Threshold is not positive
	ErrInvalidThreshold = errors.New("Threshold must be positive")

	// ErrDuplicateSource is returned when a job kind is registered twice
	ErrDuplicateSource = errors.New("reaper source already registered")
)
