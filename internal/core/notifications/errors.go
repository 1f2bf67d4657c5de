package notifications

import "errors"

var (
	// ErrUnsupportedOutcome is returned when a job kind has no notification
	// type for the given outcome.
	ErrUnsupportedOutcome = errors.New("unsupported job outcome")

	// ErrMissingUser is returned when a notice has no recipient.
	ErrMissingUser = errors.New("notice has no user")
)
