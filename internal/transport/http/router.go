// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crew/internal/platform/health"
	"crew/internal/platform/middleware"
)

// NewRouter wires all public endpoints with the middleware stack.
func NewRouter(auth *AuthHandler, invitations *InvitationHandler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Post("/login", auth.handleLogin)
		r.Post("/signup", auth.handleSignup)
		r.Post("/logout", auth.handleLogout)
		r.Get("/state", auth.handleState)
		r.Get("/sessions", auth.handleSessions)
	})

	r.Route("/invitations", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Post("/", invitations.handleCreate)
		r.Get("/validate", invitations.handleValidate)
		r.Post("/accept", invitations.handleAccept)
		r.Get("/", invitations.handleList)
		r.Post("/{id}/revoke", invitations.handleRevoke)
	})

	if healthHandler != nil {
		healthHandler.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
