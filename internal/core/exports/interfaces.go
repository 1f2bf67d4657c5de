package exports

import (
	"context"
	"time"

	"Agora/internal/core/jobs"
)

// Repository defines the data access interface for export jobs
type Repository interface {
	// Create inserts the job with status processing. Returns
	// ErrExportInProgress if the conversation already has a processing
	// export.
	Create(ctx context.Context, job *ExportJob) (*ExportJob, error)

	// GetBySlug retrieves a job and its files
	GetBySlug(ctx context.Context, slugID string) (*ExportJob, error)

	// LatestActive returns the conversation's processing export, or nil
	LatestActive(ctx context.Context, conversationID int64) (*ExportJob, error)

	// LatestCompleted returns the most recently completed, undeleted
	// export, or nil
	LatestCompleted(ctx context.Context, conversationID int64) (*ExportJob, error)

	// ListByConversation returns undeleted exports, newest first
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]*ExportJob, error)

	// Complete records the files and moves a processing job to completed.
	// Returns ErrJobNotProcessing if the job left processing meanwhile.
	Complete(ctx context.Context, jobID int64, files []ExportFile, expiresAt time.Time) error

	// Fail moves a processing job to failed. Returns ErrJobNotProcessing
	// if the job already reached a terminal state.
	Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error

	// Cancel moves a processing or completed job to cancelled and returns
	// the files recorded for it at that moment. Returns ErrNotCancellable
	// otherwise.
	Cancel(ctx context.Context, jobID int64, reason, cancelledBy string) ([]ExportFile, error)

	// ListSweepable returns undeleted exports whose artifacts should go:
	// completed ones past expires_at and cancelled ones, with their files
	ListSweepable(ctx context.Context, now time.Time, limit int) ([]*ExportJob, error)

	// MarkDeleted flags the export as deleted after its artifacts are gone
	MarkDeleted(ctx context.Context, jobID int64) error

	// UpdateFileURL stores a freshly presigned URL
	UpdateFileURL(ctx context.Context, fileID int64, url string, expiresAt time.Time) error
}

// ConversationReader resolves conversations for export admission.
type ConversationReader interface {
	// GetConversation returns ErrConversationNotFound if the slug is unknown.
	// OpinionCount excludes moved opinions.
	GetConversation(ctx context.Context, slugID string) (*Conversation, error)
}

// DataSource supplies the rows generators turn into CSV.
type DataSource interface {
	ListOpinions(ctx context.Context, conversationID int64) ([]OpinionRow, error)
	ListVotes(ctx context.Context, conversationID int64) ([]VoteRow, error)
}

// ObjectStore holds export artifacts.
type ObjectStore interface {
	// Upload stores body under key. downloadName becomes the attachment
	// filename browsers save the object as.
	Upload(ctx context.Context, key string, body []byte, contentType, downloadName string) error

	// Presign returns a GET URL valid for ttl and its expiry.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
