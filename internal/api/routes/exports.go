package routes

import (
	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers/exporter"
	"Agora/internal/api/middleware"
)

// RegisterExportRoutes registers conversation export endpoints on the router
// Cancelling an export requires the moderator role
func RegisterExportRoutes(r chi.Router, service exporter.Service, authMiddleware middleware.AuthMiddleware) {
	h := exporter.NewHandler(service)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)
		r.Post("/conversations/{conversationSlugId}/exports", h.HandleRequest)
		r.Get("/conversations/{conversationSlugId}/exports", h.HandleHistory)
		r.Get("/conversations/{conversationSlugId}/exports/readiness", h.HandleReadiness)
		r.Get("/exports/{exportSlugId}", h.HandleGet)
		r.With(middleware.RequireRole(middleware.RoleModerator)).Delete("/exports/{exportSlugId}", h.HandleCancel)
	})
}
