package imports

import (
	"context"

	"Agora/internal/core/jobs"
)

// Repository defines the data access interface for import jobs
type Repository interface {
	// Create inserts the job with status processing. Returns
	// ErrImportInProgress if the user already has a processing import.
	Create(ctx context.Context, job *ImportJob) (*ImportJob, error)

	// GetBySlug retrieves a job by its public slug
	GetBySlug(ctx context.Context, slugID string) (*ImportJob, error)

	// HasActive reports whether the user has a processing import
	HasActive(ctx context.Context, userID string) (bool, error)

	// Fail moves a processing job to failed. Returns ErrJobNotProcessing
	// if the job already reached a terminal state.
	Fail(ctx context.Context, jobID int64, reason jobs.FailureReason, message string) error
}

// ConversationCreator persists an imported conversation.
type ConversationCreator interface {
	// CreateImported creates the conversation, its opinions and votes and
	// marks the job completed, all in one transaction. If the job is no
	// longer processing nothing is written and ErrJobNotProcessing is
	// returned.
	CreateImported(ctx context.Context, jobID int64, authorID string, draft *ConversationDraft) (*CreatedConversation, error)
}

// RemoteSource fetches a conversation from the Polis bridge.
type RemoteSource interface {
	// FetchConversation returns ErrRemoteRejected-wrapped errors when the
	// remote refuses the id or returns unusable data.
	FetchConversation(ctx context.Context, ref PolisRef) (*RemoteConversation, error)
}

// RemoteConversation is the bridge's /import response.
type RemoteConversation struct {
	ReportID     string                 `json:"report_id"`
	Conversation RemoteConversationMeta `json:"conversation_data"`
	Comments     []RemoteComment        `json:"comments_data"`
	Votes        []RemoteVote           `json:"votes_data"`
}

// RemoteConversationMeta describes the source conversation.
type RemoteConversationMeta struct {
	CreatedMillis    *int64 `json:"created"`
	ParticipantCount *int   `json:"participant_count"`
	Topic            string `json:"topic"`
	Description      string `json:"description"`
	ConversationID   string `json:"conversation_id"`
	OwnerName        string `json:"ownername"`
	LinkURL          string `json:"link_url"`
}

// RemoteComment is one statement.
type RemoteComment struct {
	Text          string `json:"txt"`
	CreatedMillis int64  `json:"created"`
	StatementID   int64  `json:"statement_id"`
	ParticipantID int64  `json:"participant_id"`
	Moderated     int    `json:"moderated"`
}

// RemoteVote is one vote in Polis encoding.
type RemoteVote struct {
	ModifiedMillis float64 `json:"modified"`
	ParticipantID  int64   `json:"participant_id"`
	StatementID    int64   `json:"statement_id"`
	Vote           int     `json:"vote"`
}
