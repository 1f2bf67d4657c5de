package vote

import (
	"errors"
	"log"
	"net/http"

	"Agora/internal/api/handlers"
	"Agora/internal/core/votes"
)

// handleServiceError converts service errors to appropriate HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, votes.ErrInvalidValue):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "vote must be 'agree', 'disagree' or 'pass'")
	case errors.Is(err, votes.ErrInvalidVote):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, votes.ErrOpinionNotFound):
		handlers.WriteError(w, http.StatusNotFound, "OpinionNotFound", "Opinion not found")
	case errors.Is(err, votes.ErrBufferClosed):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ShuttingDown", "Server is shutting down, retry shortly")
	default:
		// Internal server error - log the actual error for debugging
		log.Printf("Vote handler error: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
