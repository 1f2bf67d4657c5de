package routes

import (
	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers/importer"
	"Agora/internal/api/middleware"
)

// RegisterImportRoutes registers conversation import endpoints on the router
func RegisterImportRoutes(r chi.Router, service importer.Service, maxFileSize int64, authMiddleware middleware.AuthMiddleware) {
	h := importer.NewHandler(service, maxFileSize)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)
		r.Post("/imports/csv", h.HandleCSV)
		r.Post("/imports/url", h.HandleURL)
		r.Get("/imports/{importSlugId}", h.HandleGet)
	})
}
