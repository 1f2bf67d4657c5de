package exporter

import (
	"errors"
	"log"
	"net/http"

	"Agora/internal/api/handlers"
	"Agora/internal/core/exports"
)

// handleServiceError converts service errors to appropriate HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exports.ErrExportNotFound):
		handlers.WriteError(w, http.StatusNotFound, "ExportNotFound", "Export not found")
	case errors.Is(err, exports.ErrConversationNotFound):
		handlers.WriteError(w, http.StatusNotFound, "ConversationNotFound", "Conversation not found")
	case errors.Is(err, exports.ErrNotCancellable):
		handlers.WriteError(w, http.StatusConflict, "NotCancellable", "Export cannot be cancelled in its current state")
	case errors.Is(err, exports.ErrExportInProgress):
		handlers.WriteError(w, http.StatusConflict, "ExportInProgress", "An export is already in progress for this conversation")
	case errors.Is(err, exports.ErrBufferClosed):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ShuttingDown", "Server is shutting down, retry shortly")
	default:
		log.Printf("Export handler error: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
