package importer

import (
	"errors"
	"log"
	"net/http"

	"Agora/internal/api/handlers"
	"Agora/internal/core/imports"
)

// handleServiceError converts service errors to appropriate HTTP responses
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imports.ErrImportInProgress):
		handlers.WriteError(w, http.StatusConflict, "ImportInProgress", "You already have an import in progress")
	case errors.Is(err, imports.ErrFileTooLarge):
		handlers.WriteError(w, http.StatusRequestEntityTooLarge, "FileTooLarge", err.Error())
	case errors.Is(err, imports.ErrMissingFile),
		errors.Is(err, imports.ErrInvalidCSV),
		errors.Is(err, imports.ErrInvalidPolisURL):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidDataFormat", err.Error())
	case errors.Is(err, imports.ErrImportNotFound), errors.Is(err, imports.ErrNotOwner):
		// Other users' imports are indistinguishable from missing ones.
		handlers.WriteError(w, http.StatusNotFound, "ImportNotFound", "Import not found")
	case errors.Is(err, imports.ErrRemoteRejected):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ImportUnavailable", "URL imports are not available")
	case errors.Is(err, imports.ErrBufferClosed):
		handlers.WriteError(w, http.StatusServiceUnavailable, "ShuttingDown", "Server is shutting down, retry shortly")
	default:
		log.Printf("Import handler error: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
