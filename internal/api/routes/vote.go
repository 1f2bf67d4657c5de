package routes

import (
	"github.com/go-chi/chi/v5"

	"Agora/internal/api/handlers/vote"
	"Agora/internal/api/middleware"
)

// RegisterVoteRoutes registers the vote cast endpoint on the router
// castLimiter bounds casts per user on top of the global limiter
func RegisterVoteRoutes(r chi.Router, caster vote.Caster, authMiddleware middleware.AuthMiddleware, castLimiter *middleware.RateLimiter) {
	castHandler := vote.NewCastVoteHandler(caster)

	r.With(authMiddleware.RequireAuth, castLimiter.Middleware).Post("/votes", castHandler.HandleCastVote)
}
