package votes

import "errors"

var (
	// ErrInvalidVote indicates a cast is missing its user, opinion or
	// conversation.
	ErrInvalidVote = errors.New("invalid vote")

	// ErrInvalidValue indicates the vote value is not agree, disagree or pass
	ErrInvalidValue = errors.New("invalid vote value: must be 'agree', 'disagree' or 'pass'")

	// ErrOpinionNotFound indicates the opinion being voted on doesn't exist
	// in the given conversation
	ErrOpinionNotFound = errors.New("opinion not found")

	// ErrBufferClosed is returned by CastVote after Shutdown
	ErrBufferClosed = errors.New("vote buffer is shut down")

	// ErrInvalidFlushInterval indicates FlushInterval is not positive
	ErrInvalidFlushInterval = errors.New("flush interval must be positive")

	// ErrInvalidBatchLimit indicates BatchLimit is not positive
	ErrInvalidBatchLimit = errors.New("batch limit must be positive")

	// ErrInvalidChunkSize indicates TxChunkSize is not positive
	ErrInvalidChunkSize = errors.New("transaction chunk size must be positive")

	// ErrInvalidMathConcurrency indicates MathConcurrency is not positive
	ErrInvalidMathConcurrency = errors.New("math concurrency must be positive")
)
