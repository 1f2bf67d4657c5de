package exports

import (
	"time"

	"Agora/internal/core/jobs"
	"Agora/internal/core/votes"
)

// ExportJob is a row of conversation_exports with its files.
type ExportJob struct {
	CreatedAt          time.Time          `json:"createdAt"`
	CompletedAt        *time.Time         `json:"completedAt,omitempty"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`
	DeletedAt          *time.Time         `json:"-"`
	SlugID             string             `json:"exportSlugId"`
	ConversationSlugID string             `json:"conversationSlugId"`
	RequestedBy        string             `json:"-"`
	Status             jobs.Status        `json:"status"`
	FailureReason      jobs.FailureReason `json:"failureReason,omitempty"`
	CancellationReason string             `json:"cancellationReason,omitempty"`
	Message            string             `json:"errorMessage,omitempty"`
	Files              []ExportFile       `json:"files,omitempty"`
	ConversationID     int64              `json:"-"`
	ID                 int64              `json:"-"`
}

// TotalFileSize sums the sizes of the job's files.
func (j *ExportJob) TotalFileSize() int64 {
	var n int64
	for _, f := range j.Files {
		n += f.FileSize
	}
	return n
}

// ExportFile describes one uploaded CSV.
type ExportFile struct {
	URLExpiresAt time.Time `json:"urlExpiresAt"`
	FileType     string    `json:"fileType"`
	FileName     string    `json:"fileName"`
	S3Key        string    `json:"-"`
	URL          string    `json:"downloadUrl"`
	FileSize     int64     `json:"fileSize"`
	RecordCount  int       `json:"recordCount"`
	ID           int64     `json:"-"`
}

// Conversation is the subset of a conversation an export needs.
type Conversation struct {
	SlugID       string
	ID           int64
	OpinionCount int
}

// OpinionRow is one opinion as exported. AuthorParticipant is the
// conversation-scoped participant number shared with VoteRow.
type OpinionRow struct {
	CreatedAt         time.Time
	Body              string
	ID                int64
	AuthorParticipant int64
	Agrees            int
	Disagrees         int
	Passes            int
	Moderated         int
}

// VoteRow is one live vote as exported.
type VoteRow struct {
	CastAt           time.Time
	Value            votes.Value
	OpinionID        int64
	VoterParticipant int64
}

// queuedExport is the queue payload, keyed in the hash by SlugID.
type queuedExport struct {
	SlugID             string `json:"exportSlugId"`
	ConversationSlugID string `json:"conversationSlugId"`
	UserID             string `json:"userId"`
	ExportID           int64  `json:"exportId"`
	ConversationID     int64  `json:"conversationId"`
}

const queuedExportSchema = `{
  "type": "object",
  "required": ["exportId", "exportSlugId", "conversationId", "conversationSlugId", "userId"],
  "properties": {
    "exportId": {"type": "integer", "minimum": 1},
    "exportSlugId": {"type": "string", "minLength": 1},
    "conversationId": {"type": "integer", "minimum": 1},
    "conversationSlugId": {"type": "string", "minLength": 1},
    "userId": {"type": "string", "minLength": 1}
  }
}`
