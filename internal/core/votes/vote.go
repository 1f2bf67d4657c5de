package votes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Value is a participant's stance on an opinion.
type Value string

const (
	ValueAgree    Value = "agree"
	ValueDisagree Value = "disagree"
	ValuePass     Value = "pass"
)

// ParseValue validates a raw vote value.
func ParseValue(s string) (Value, error) {
	switch v := Value(strings.ToLower(strings.TrimSpace(s))); v {
	case ValueAgree, ValueDisagree, ValuePass:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// PolisCode is the numeric encoding the consensus engine expects.
func (v Value) PolisCode() int {
	switch v {
	case ValueAgree:
		return 1
	case ValueDisagree:
		return -1
	}
	return 0
}

// ValueFromPolisCode is the inverse of PolisCode.
func ValueFromPolisCode(code int) (Value, error) {
	switch code {
	case 1:
		return ValueAgree, nil
	case -1:
		return ValueDisagree, nil
	case 0:
		return ValuePass, nil
	}
	return "", fmt.Errorf("%w: polis code %d", ErrInvalidValue, code)
}

// VoteRecord is one cast. At most one live record exists per
// (UserID, OpinionID) and a cast replaces it only if CastAt is not older.
type VoteRecord struct {
	CastAt         time.Time `json:"castAt"`
	UserID         string    `json:"userId"`
	Value          Value     `json:"value"`
	OpinionID      int64     `json:"opinionId"`
	ConversationID int64     `json:"conversationId"`
}

// Key is the identity of the record in the queue.
func (v VoteRecord) Key() string {
	return fmt.Sprintf("%s:%d", v.UserID, v.OpinionID)
}

// Validate checks the fields required to queue the record.
func (v VoteRecord) Validate() error {
	switch {
	case v.UserID == "":
		return fmt.Errorf("%w: missing user", ErrInvalidVote)
	case strings.Contains(v.UserID, ":"):
		return fmt.Errorf("%w: user id must not contain ':'", ErrInvalidVote)
	case v.OpinionID <= 0:
		return fmt.Errorf("%w: missing opinion", ErrInvalidVote)
	case v.ConversationID <= 0:
		return fmt.Errorf("%w: missing conversation", ErrInvalidVote)
	}
	if _, err := ParseValue(string(v.Value)); err != nil {
		return err
	}
	return nil
}

// Supersedes reports whether v should replace other under last-writer-wins.
func (v VoteRecord) Supersedes(other VoteRecord) bool {
	return !v.CastAt.Before(other.CastAt)
}

// queuedVote is the payload stored in the vote data hash. CastAt travels
// as Unix milliseconds to match the sorted-set score.
type queuedVote struct {
	UserID         string `json:"userId"`
	Value          Value  `json:"value"`
	OpinionID      int64  `json:"opinionId"`
	ConversationID int64  `json:"conversationId"`
	CastAtMillis   int64  `json:"castAt"`
}

const queuedVoteSchema = `{
  "type": "object",
  "required": ["userId", "opinionId", "conversationId", "value", "castAt"],
  "properties": {
    "userId": {"type": "string", "minLength": 1},
    "opinionId": {"type": "integer", "minimum": 1},
    "conversationId": {"type": "integer", "minimum": 1},
    "value": {"enum": ["agree", "disagree", "pass"]},
    "castAt": {"type": "integer", "minimum": 0}
  }
}`

func toQueued(v VoteRecord) queuedVote {
	return queuedVote{
		UserID:         v.UserID,
		Value:          v.Value,
		OpinionID:      v.OpinionID,
		ConversationID: v.ConversationID,
		CastAtMillis:   v.CastAt.UnixMilli(),
	}
}

func (q queuedVote) record() VoteRecord {
	return VoteRecord{
		UserID:         q.UserID,
		Value:          q.Value,
		OpinionID:      q.OpinionID,
		ConversationID: q.ConversationID,
		CastAt:         time.UnixMilli(q.CastAtMillis).UTC(),
	}
}

// Batch coalesces records by identity under last-writer-wins.
type Batch map[string]VoteRecord

// Merge adds v unless the batch already holds a newer cast for the pair.
func (b Batch) Merge(v VoteRecord) bool {
	if cur, ok := b[v.Key()]; ok && !v.Supersedes(cur) {
		return false
	}
	b[v.Key()] = v
	return true
}

// Records returns the batch ordered by cast time, then identity.
func (b Batch) Records() []VoteRecord {
	out := make([]VoteRecord, 0, len(b))
	for _, v := range b {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// ClusteringResult is the blob returned by the consensus engine. It is
// stored as-is; this layer never interprets it beyond the summary fields.
type ClusteringResult struct {
	ComputedAt     time.Time       `json:"computedAt"`
	Raw            json.RawMessage `json:"raw"`
	ConversationID int64           `json:"conversationId"`
	GroupCount     int             `json:"groupCount"`
	VoteCount      int             `json:"voteCount"`
}
