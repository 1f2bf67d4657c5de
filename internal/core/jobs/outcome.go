package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies which buffer owns a job.
type Kind string

const (
	KindImport Kind = "import"
	KindExport Kind = "export"
)

// Status is the lifecycle state stored on every job row.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FailureReason classifies why a job ended in StatusFailed.
type FailureReason string

const (
	ReasonProcessingError   FailureReason = "processing_error"
	ReasonServerRestart     FailureReason = "server_restart"
	ReasonTimeout           FailureReason = "timeout"
	ReasonInvalidDataFormat FailureReason = "invalid_data_format"
)

// Valid reports whether r is one of the known failure reasons.
func (r FailureReason) Valid() bool {
	switch r {
	case ReasonProcessingError, ReasonServerRestart, ReasonTimeout, ReasonInvalidDataFormat:
		return true
	}
	return false
}

// Outcome is the terminal result of a job. The set of implementations is
// closed: Completed, Failed and Cancelled.
type Outcome interface {
	Status() Status
	isOutcome()
}

// Completed carries the artifact a successful job produced.
type Completed struct {
	// ConversationSlugID is set for imports (the created conversation) and
	// exports (the exported conversation).
	ConversationSlugID string
	// Files lists the generated export artifacts. Empty for imports.
	Files []string
}

// Failed carries the classified failure.
type Failed struct {
	Reason  FailureReason
	Message string
}

// Cancelled is produced by a moderator action.
type Cancelled struct {
	Reason string
	By     string
}

func (Completed) Status() Status { return StatusCompleted }
func (Failed) Status() Status    { return StatusFailed }
func (Cancelled) Status() Status { return StatusCancelled }

func (Completed) isOutcome() {}
func (Failed) isOutcome()    {}
func (Cancelled) isOutcome() {}

// Reaped is a job row the stale reaper moved out of processing.
type Reaped struct {
	Kind               Kind
	JobID              int64
	SlugID             string
	UserID             string
	ConversationSlugID string
	CreatedAt          time.Time
}

// ClassifiedError attaches a FailureReason to an error returned by a job
// pipeline.
type ClassifiedError struct {
	Reason FailureReason
	Err    error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with reason. A nil err stays nil.
func Classify(reason FailureReason, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Reason: reason, Err: err}
}

// ReasonFor maps a pipeline error onto the failure taxonomy. Explicitly
// classified errors keep their reason, deadline errors become timeouts and
// everything else is a processing error.
func ReasonFor(err error) FailureReason {
	var ce *ClassifiedError
	if errors.As(err, &ce) && ce.Reason.Valid() {
		return ce.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonProcessingError
}

// FailedFrom builds a Failed outcome from a pipeline error.
func FailedFrom(err error) Failed {
	return Failed{Reason: ReasonFor(err), Message: err.Error()}
}
