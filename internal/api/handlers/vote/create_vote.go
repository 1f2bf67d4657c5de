package vote

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"Agora/internal/api/handlers"
	"Agora/internal/api/middleware"
	"Agora/internal/core/votes"
)

// maxClockSkew is how far in the future a client castAt may lie.
const maxClockSkew = time.Minute

// Caster queues votes
type Caster interface {
	CastVote(ctx context.Context, v votes.VoteRecord) error
}

// CastVoteInput is the request body
type CastVoteInput struct {
	CastAt         *time.Time `json:"castAt,omitempty"`
	Vote           string     `json:"vote"`
	ConversationID int64      `json:"conversationId"`
	OpinionID      int64      `json:"opinionId"`
}

// CastVoteHandler handles vote casts
type CastVoteHandler struct {
	caster Caster
	now    func() time.Time
}

// NewCastVoteHandler creates a new cast vote handler
func NewCastVoteHandler(caster Caster) *CastVoteHandler {
	return &CastVoteHandler{caster: caster, now: time.Now}
}

// HandleCastVote queues a vote for the next flush
// POST /api/v1/votes
//
// Request body: { "conversationId": 1, "opinionId": 2, "vote": "agree" | "disagree" | "pass", "castAt": "..." }
func (h *CastVoteHandler) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	var req CastVoteInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if req.ConversationID <= 0 || req.OpinionID <= 0 {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "conversationId and opinionId are required")
		return
	}

	value, err := votes.ParseValue(req.Vote)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	now := h.now()
	castAt := now
	if req.CastAt != nil {
		if req.CastAt.After(now.Add(maxClockSkew)) {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "castAt is in the future")
			return
		}
		castAt = *req.CastAt
	}

	err = h.caster.CastVote(r.Context(), votes.VoteRecord{
		CastAt:         castAt,
		UserID:         userID,
		Value:          value,
		OpinionID:      req.OpinionID,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
}
