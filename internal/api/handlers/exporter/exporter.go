package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers"
	"Agora/internal/api/middleware"
	"Agora/internal/core/exports"
)

// Service is the part of the export buffer the handlers use
type Service interface {
	Request(ctx context.Context, conversationSlugID, userID string) (exports.Admission, error)
	Get(ctx context.Context, exportSlugID string) (*exports.ExportJob, error)
	Cancel(ctx context.Context, exportSlugID, moderatorID, reason string) error
	Readiness(ctx context.Context, conversationSlugID string) (*exports.Readiness, error)
	History(ctx context.Context, conversationSlugID string) ([]*exports.ExportJob, error)
}

// Handler serves the export endpoints
type Handler struct {
	service Service
}

// NewHandler creates an export handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// ExportAccepted is the 202 response body
type ExportAccepted struct {
	ExportSlugID string `json:"exportSlugId"`
}

// HandleRequest asks for a new export of a conversation
// POST /api/v1/conversations/{conversationSlugId}/exports
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	admission, err := h.service.Request(r.Context(), chi.URLParam(r, "conversationSlugId"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	switch a := admission.(type) {
	case exports.Accepted:
		handlers.WriteJSON(w, http.StatusAccepted, ExportAccepted{ExportSlugID: a.Job.SlugID})
	case exports.Rejected:
		writeRejection(w, a)
	default:
		log.Printf("Export handler: unexpected admission %T", admission)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}

func writeRejection(w http.ResponseWriter, rej exports.Rejected) {
	switch rej.Reason {
	case exports.RejectConversationNotFound:
		handlers.WriteError(w, http.StatusNotFound, "ConversationNotFound", "Conversation not found")
	case exports.RejectNoOpinions:
		handlers.WriteError(w, http.StatusUnprocessableEntity, "NoOpinions", "Conversation has no opinions to export")
	case exports.RejectAlreadyInProgress:
		body := map[string]interface{}{
			"error":   "ExportInProgress",
			"message": "An export is already in progress for this conversation",
		}
		if rej.ActiveSlugID != "" {
			body["exportSlugId"] = rej.ActiveSlugID
		}
		handlers.WriteJSON(w, http.StatusConflict, body)
	case exports.RejectCooldown:
		seconds := int(rej.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		handlers.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":             "ExportCooldown",
			"message":           "This conversation was exported recently",
			"retryAfterSeconds": seconds,
		})
	default:
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", string(rej.Reason))
	}
}

// HandleGet returns an export with fresh download URLs
// GET /api/v1/exports/{exportSlugId}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(r.Context(), chi.URLParam(r, "exportSlugId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}

// CancelInput is the optional body of a cancellation
type CancelInput struct {
	Reason string `json:"reason"`
}

// HandleCancel removes an export and its files. Moderators only; the route
// enforces the role.
// DELETE /api/v1/exports/{exportSlugId}
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	moderatorID := middleware.GetUserID(r)
	if moderatorID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	var req CancelInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "exportSlugId"), moderatorID, req.Reason); err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"cancelled": true})
}

// HandleReadiness reports whether an export can be requested now
// GET /api/v1/conversations/{conversationSlugId}/exports/readiness
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	readiness, err := h.service.Readiness(r.Context(), chi.URLParam(r, "conversationSlugId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, readiness)
}

// HandleHistory lists recent exports of a conversation
// GET /api/v1/conversations/{conversationSlugId}/exports
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), chi.URLParam(r, "conversationSlugId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if history == nil {
		history = []*exports.ExportJob{}
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{"exports": history})
}
