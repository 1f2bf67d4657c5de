package exports

import "errors"

var (
	// ErrExportNotFound indicates the export doesn't exist or was deleted
	ErrExportNotFound = errors.New("export not found")

	// ErrConversationNotFound indicates the conversation to export doesn't exist
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrExportInProgress indicates the conversation already has a
	// processing export
	ErrExportInProgress = errors.New("an export is already in progress for this conversation")

	// ErrJobNotProcessing indicates a completion or failure was attempted on
	// a job that already left processing
	ErrJobNotProcessing = errors.New("export job is no longer processing")

	// ErrNotCancellable indicates the export is failed, cancelled or deleted
	ErrNotCancellable = errors.New("export cannot be cancelled")

	// ErrDuplicateGenerator indicates two generators share a file type
	ErrDuplicateGenerator = errors.New("generator already registered for file type")

	// ErrBufferClosed is returned by Request after Shutdown
	ErrBufferClosed = errors.New("export buffer is shut down")

	// ErrInvalidBatchSize is returned when BatchSize is not positive
	ErrInvalidBatchSize = errors.New("BatchSize must be positive")

	// ErrInvalidConcurrency is returned when Concurrency is not positive
	ErrInvalidConcurrency = errors.New("Concurrency must be positive")

	// ErrInvalidFlushInterval is returned when FlushInterval is not positive
	ErrInvalidFlushInterval = errors.New("FlushInterval must be positive")

	// ErrInvalidCooldown is returned when Cooldown is negative
	ErrInvalidCooldown = errors.New("Cooldown must not be negative")

	// ErrInvalidURLTTL is returned when URLTTL is outside (0, 7 days]
	ErrInvalidURLTTL = errors.New("URLTTL must be between 1s and 7 days")

	// ErrInvalidExpiryDays is returned when ExpiryDays is not positive
	ErrInvalidExpiryDays = errors.New("ExpiryDays must be positive")
)
