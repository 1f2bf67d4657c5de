package notification

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"Agora/internal/api/handlers"
	"Agora/internal/api/middleware"
	"Agora/internal/core/notifications"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Lister reads stored notifications
type Lister interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]*notifications.Notification, error)
}

// Streamer serves a live notification connection
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// Handler serves the notification endpoints
type Handler struct {
	lister   Lister
	streamer Streamer
}

// NewHandler creates a notification handler
func NewHandler(lister Lister, streamer Streamer) *Handler {
	return &Handler{lister: lister, streamer: streamer}
}

// HandleList returns the caller's recent notifications, newest first
// GET /api/v1/notifications?limit=20
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	list, err := h.lister.ListForUser(r.Context(), userID, limit)
	if err != nil {
		log.Printf("Notification list error: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
		return
	}
	if list == nil {
		list = []*notifications.Notification{}
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

// HandleStream upgrades to a websocket that receives notifications as they
// are created
// GET /api/v1/notifications/stream
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}
	if err := h.streamer.Serve(w, r, userID); err != nil {
		log.Printf("Notification stream error for %s: %v", userID, err)
	}
}
