package notifications

import (
	"fmt"
	"time"

	"Agora/internal/core/jobs"
)

// Type is the user-facing notification category.
type Type string

const (
	TypeImportStarted   Type = "import_started"
	TypeImportCompleted Type = "import_completed"
	TypeImportFailed    Type = "import_failed"
	TypeExportStarted   Type = "export_started"
	TypeExportCompleted Type = "export_completed"
	TypeExportFailed    Type = "export_failed"
	TypeExportCancelled Type = "export_cancelled"
)

// Notification is a persisted notification row.
type Notification struct {
	CreatedAt          time.Time `json:"createdAt"`
	SlugID             string    `json:"slugId"`
	UserID             string    `json:"-"`
	Type               Type      `json:"type"`
	JobKind            jobs.Kind `json:"jobKind"`
	JobSlugID          string    `json:"jobSlugId"`
	ConversationSlugID string    `json:"conversationSlugId,omitempty"`
	FailureReason      string    `json:"failureReason,omitempty"`
	Message            string    `json:"message,omitempty"`
	ID                 int64     `json:"-"`
	IsRead             bool      `json:"isRead"`
}

// Notice is what buffers and the reaper hand to the dispatcher. A nil
// Outcome means the job was just accepted.
type Notice struct {
	Outcome            jobs.Outcome
	UserID             string
	Kind               jobs.Kind
	JobSlugID          string
	ConversationSlugID string
}

// Started builds the notice sent when a job is accepted.
func Started(kind jobs.Kind, userID, jobSlugID, conversationSlugID string) Notice {
	return Notice{Kind: kind, UserID: userID, JobSlugID: jobSlugID, ConversationSlugID: conversationSlugID}
}

// FromOutcome builds the notice for a terminal transition.
func FromOutcome(kind jobs.Kind, userID, jobSlugID string, outcome jobs.Outcome) Notice {
	n := Notice{Kind: kind, UserID: userID, JobSlugID: jobSlugID, Outcome: outcome}
	if c, ok := outcome.(jobs.Completed); ok {
		n.ConversationSlugID = c.ConversationSlugID
	}
	return n
}

// TypeFor maps a job kind and outcome to a notification type. Imports
// cannot be cancelled.
func TypeFor(kind jobs.Kind, outcome jobs.Outcome) (Type, error) {
	switch kind {
	case jobs.KindImport:
		switch outcome.(type) {
		case nil:
			return TypeImportStarted, nil
		case jobs.Completed:
			return TypeImportCompleted, nil
		case jobs.Failed:
			return TypeImportFailed, nil
		}
	case jobs.KindExport:
		switch outcome.(type) {
		case nil:
			return TypeExportStarted, nil
		case jobs.Completed:
			return TypeExportCompleted, nil
		case jobs.Failed:
			return TypeExportFailed, nil
		case jobs.Cancelled:
			return TypeExportCancelled, nil
		}
	}
	return "", fmt.Errorf("%w: kind=%s outcome=%T", ErrUnsupportedOutcome, kind, outcome)
}
