package routes

import (
	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers/notification"
	"Agora/internal/api/middleware"
)

// RegisterNotificationRoutes registers the notification list and the live
// stream. streamAuth should accept the token query parameter, since
// browsers cannot set headers on websocket upgrades.
func RegisterNotificationRoutes(r chi.Router, lister notification.Lister, streamer notification.Streamer, authMiddleware, streamAuth middleware.AuthMiddleware) {
	h := notification.NewHandler(lister, streamer)

	r.With(authMiddleware.RequireAuth).Get("/notifications", h.HandleList)
	r.With(streamAuth.RequireAuth).Get("/notifications/stream", h.HandleStream)
}
