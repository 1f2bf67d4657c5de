package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers"
	"Agora/internal/api/middleware"
	"Agora/internal/core/imports"
)

// Service is the part of the import buffer the handlers use
type Service interface {
	SubmitCSV(ctx context.Context, userID string, files imports.CSVFiles) (*imports.ImportJob, error)
	SubmitURL(ctx context.Context, userID, polisURL string) (*imports.ImportJob, error)
	Get(ctx context.Context, slugID, userID string) (*imports.ImportJob, error)
}

// Handler serves the import endpoints
type Handler struct {
	service     Service
	maxFileSize int64
}

// NewHandler creates an import handler. maxFileSize bounds each uploaded
// file; the service enforces the same limit.
func NewHandler(service Service, maxFileSize int64) *Handler {
	return &Handler{service: service, maxFileSize: maxFileSize}
}

// ImportAccepted is the 202 response body
type ImportAccepted struct {
	ImportSlugID string `json:"importSlugId"`
}

// HandleCSV queues an import of the three Polis export files
// POST /api/v1/imports/csv (multipart: summaryFile, commentsFile, votesFile)
func (h *Handler) HandleCSV(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	// Three files plus multipart overhead.
	r.Body = http.MaxBytesReader(w, r.Body, 3*(h.maxFileSize+1) + 1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			handleServiceError(w, fmt.Errorf("%w: request body exceeds %d bytes", imports.ErrFileTooLarge, tooBig.Limit))
			return
		}
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Expected a multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var files imports.CSVFiles
	for _, f := range []struct {
		dst   *string
		field string
	}{
		{&files.Summary, "summaryFile"},
		{&files.Comments, "commentsFile"},
		{&files.Votes, "votesFile"},
	} {
		content, err := h.readFile(r, f.field)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		*f.dst = content
	}

	job, err := h.service.SubmitCSV(r.Context(), userID, files)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusAccepted, ImportAccepted{ImportSlugID: job.SlugID})
}

// readFile reads at most maxFileSize+1 bytes so the service can report an
// oversized file without the handler buffering all of it.
func (h *Handler) readFile(r *http.Request, field string) (string, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", fmt.Errorf("%w: %s", imports.ErrMissingFile, field)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return string(data), nil
}

// URLInput is the body of a URL import
type URLInput struct {
	PolisURL string `json:"polisUrl"`
}

// HandleURL queues an import of a pol.is conversation or report
// POST /api/v1/imports/url
func (h *Handler) HandleURL(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	var req URLInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	job, err := h.service.SubmitURL(r.Context(), userID, req.PolisURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusAccepted, ImportAccepted{ImportSlugID: job.SlugID})
}

// HandleGet returns one of the caller's imports
// GET /api/v1/imports/{importSlugId}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}

	job, err := h.service.Get(r.Context(), chi.URLParam(r, "importSlugId"), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}
