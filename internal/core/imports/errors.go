package imports

import "errors"

var (
	// ErrImportNotFound indicates the requested import job doesn't exist
	ErrImportNotFound = errors.New("import not found")

	// ErrImportInProgress indicates the user already has a processing import
	ErrImportInProgress = errors.New("an import is already in progress for this user")

	// ErrJobNotProcessing indicates a terminal transition was attempted on a
	// job that already left processing, typically because the reaper got
	// there first
	ErrJobNotProcessing = errors.New("import job is no longer processing")

	// ErrInvalidPolisURL indicates the URL is not a pol.is conversation or
	// report URL
	ErrInvalidPolisURL = errors.New("invalid Polis URL")

	// ErrMissingFile indicates one of the three CSV files was not provided
	ErrMissingFile = errors.New("missing import file")

	// ErrFileTooLarge indicates an uploaded CSV exceeds MaxFileSize
	ErrFileTooLarge = errors.New("import file too large")

	// ErrInvalidCSV indicates a CSV file could not be parsed or is
	// inconsistent with its siblings
	ErrInvalidCSV = errors.New("invalid CSV data")

	// ErrRemoteRejected indicates the remote source refused the request or
	// returned data that could not be decoded
	ErrRemoteRejected = errors.New("remote source rejected import")

	// ErrEmptyConversation indicates the source contained no opinions
	ErrEmptyConversation = errors.New("imported conversation has no opinions")

	// ErrNotOwner indicates the import belongs to another user
	ErrNotOwner = errors.New("import belongs to another user")

	// ErrBufferClosed is returned by Submit after Shutdown
	ErrBufferClosed = errors.New("import buffer is shut down")

	// ErrInvalidBatchSize is returned when BatchSize is not positive
	ErrInvalidBatchSize = errors.New("BatchSize must be positive")

	// ErrInvalidConcurrency is returned when Concurrency is not positive
	ErrInvalidConcurrency = errors.New("Concurrency must be positive")

	// ErrInvalidFlushInterval is returned when FlushInterval is not positive
	ErrInvalidFlushInterval = errors.New("FlushInterval must be positive")

	// ErrInvalidMaxFileSize is returned when MaxFileSize is not positive
	ErrInvalidMaxFileSize = errors.New("MaxFileSize must be positive")
)
