package polisbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"Agora/internal/core/votes"
)

type mathRequest struct {
	ConversationID int64      `json:"conversation_id"`
	Votes          []mathVote `json:"votes"`
}

// mathVote is one vote in the engine's encoding. Participants are numbered
// from 0 in order of their first vote.
type mathVote struct {
	ParticipantID int64 `json:"participant_id"`
	StatementID   int64 `json:"statement_id"`
	Vote          int   `json:"vote"`
	Modified      int64 `json:"modified"`
}

// mathSummary picks the few fields this service reads out of the engine's
// output. Everything else is stored untouched.
type mathSummary struct {
	GroupClusters []json.RawMessage `json:"group-clusters"`
	NumVotes      *int              `json:"n-votes"`
}

// encodeVotes converts records to the engine's encoding, oldest first.
func encodeVotes(records []votes.VoteRecord) []mathVote {
	sorted := make([]votes.VoteRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CastAt.Before(sorted[j].CastAt)
	})

	pids := make(map[string]int64)
	out := make([]mathVote, 0, len(sorted))
	for _, v := range sorted {
		pid, ok := pids[v.UserID]
		if !ok {
			pid = int64(len(pids))
			pids[v.UserID] = pid
		}
		out = append(out, mathVote{
			ParticipantID: pid,
			StatementID:   v.OpinionID,
			Vote:          v.Value.PolisCode(),
			Modified:      v.CastAt.UnixMilli(),
		})
	}
	return out
}

// Recompute posts every vote of a conversation to /math and returns the
// engine's clustering result.
func (c *Client) Recompute(ctx context.Context, conversationID int64, records []votes.VoteRecord) (*votes.ClusteringResult, error) {
	computedAt := time.Now()

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/math", nil, mathRequest{
		ConversationID: conversationID,
		Votes:          encodeVotes(records),
	}, &raw)
	if err != nil {
		return nil, err
	}

	var summary mathSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("math result is not an object: %w", err)}
	}

	result := &votes.ClusteringResult{
		ComputedAt:     computedAt,
		Raw:            raw,
		ConversationID: conversationID,
		GroupCount:     len(summary.GroupClusters),
		VoteCount:      len(records),
	}
	if summary.NumVotes != nil {
		result.VoteCount = *summary.NumVotes
	}
	return result, nil
}

var _ votes.MathEngine = (*Client)(nil)
