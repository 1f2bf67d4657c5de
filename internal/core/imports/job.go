package imports

import (
	"time"

	"Agora/internal/core/jobs"
	"Agora/internal/core/votes"
)

// SourceKind is where an import's data comes from.
type SourceKind string

const (
	SourceCSV SourceKind = "csv"
	SourceURL SourceKind = "url"
)

// ImportJob is a row of conversation_imports.
type ImportJob struct {
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	ConversationID     *int64             `json:"-"`
	FailureReason      jobs.FailureReason `json:"failureReason,omitempty"`
	SlugID             string             `json:"importSlugId"`
	UserID             string             `json:"-"`
	Source             SourceKind         `json:"sourceKind"`
	SourceLocator      string             `json:"sourceLocator,omitempty"`
	Status             jobs.Status        `json:"status"`
	ConversationSlugID string             `json:"conversationSlugId,omitempty"`
	ID                 int64              `json:"-"`
}

// CSVFiles holds the three Polis export files uploaded for a CSV import.
type CSVFiles struct {
	Summary  string `json:"summary"`
	Comments string `json:"comments"`
	Votes    string `json:"votes"`
}

// queuedImport is the queue payload. CSV contents travel in the envelope
// because the request is the only place they exist.
type queuedImport struct {
	Files     *CSVFiles  `json:"files,omitempty"`
	JobSlugID string     `json:"jobSlugId"`
	UserID    string     `json:"userId"`
	Source    SourceKind `json:"source"`
	PolisURL  string     `json:"polisUrl,omitempty"`
	JobID     int64      `json:"jobId"`
}

const queuedImportSchema = `{
  "type": "object",
  "required": ["jobId", "jobSlugId", "userId", "source"],
  "properties": {
    "jobId": {"type": "integer", "minimum": 1},
    "jobSlugId": {"type": "string", "minLength": 1},
    "userId": {"type": "string", "minLength": 1},
    "source": {"enum": ["csv", "url"]},
    "polisUrl": {"type": "string"},
    "files": {
      "type": "object",
      "required": ["summary", "comments", "votes"],
      "properties": {
        "summary": {"type": "string"},
        "comments": {"type": "string"},
        "votes": {"type": "string"}
      }
    }
  },
  "allOf": [
    {"if": {"properties": {"source": {"const": "csv"}}}, "then": {"required": ["files"]}},
    {"if": {"properties": {"source": {"const": "url"}}}, "then": {"required": ["polisUrl"]}}
  ]
}`

// DraftOpinion is an imported statement. ExternalID is the source system's
// statement id, used to attach imported votes.
type DraftOpinion struct {
	CreatedAt   time.Time
	ExternalID  string
	Participant string
	Body        string
	Moderated   int
}

// DraftVote is an imported vote keyed by external ids.
type DraftVote struct {
	CastAt      time.Time
	Participant string
	OpinionID   string
	Value       votes.Value
}

// ConversationDraft is everything a pipeline extracted, ready to persist.
type ConversationDraft struct {
	OriginalCreatedAt *time.Time
	Title             string
	Body              string
	ImportURL         string
	ConversationURL   string
	ReportURL         string
	OriginalAuthor    string
	Opinions          []DraftOpinion
	Votes             []DraftVote
}

// Participants counts distinct voters and authors.
func (d *ConversationDraft) Participants() int {
	seen := make(map[string]struct{})
	for _, v := range d.Votes {
		seen[v.Participant] = struct{}{}
	}
	for _, o := range d.Opinions {
		if o.Participant != "" {
			seen[o.Participant] = struct{}{}
		}
	}
	return len(seen)
}

// CreatedConversation identifies the conversation an import produced.
type CreatedConversation struct {
	SlugID string
	ID     int64
}
