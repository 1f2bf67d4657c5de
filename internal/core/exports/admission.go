package exports

import "time"

// RejectReason says why an export request was not accepted.
type RejectReason string

const (
	RejectConversationNotFound RejectReason = "conversation_not_found"
	RejectNoOpinions           RejectReason = "no_opinions"
	RejectAlreadyInProgress    RejectReason = "already_in_progress"
	RejectCooldown             RejectReason = "cooldown"
)

// Admission is the result of Request: Accepted or Rejected.
type Admission interface {
	isAdmission()
}

// Accepted means a processing job was created and queued.
type Accepted struct {
	Job *ExportJob
}

// Rejected means nothing was created. RetryAfter is set for cooldowns and
// ActiveSlugID for in-progress rejections when the active job is known.
type Rejected struct {
	Reason       RejectReason
	ActiveSlugID string
	RetryAfter   time.Duration
}

func (Accepted) isAdmission() {}
func (Rejected) isAdmission() {}

// ReadinessState is what a client should show before requesting an export.
type ReadinessState string

const (
	ReadinessActive   ReadinessState = "active"
	ReadinessCooldown ReadinessState = "cooldown"
	ReadinessReady    ReadinessState = "ready"
)

// Readiness reports whether a conversation can be exported right now.
type Readiness struct {
	CooldownEndsAt *time.Time     `json:"cooldownEndsAt,omitempty"`
	State          ReadinessState `json:"status"`
	ExportSlugID   string         `json:"exportSlugId,omitempty"`
}
