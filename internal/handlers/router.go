package handlers

import (
	"net/http"

	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Router mounts every endpoint. sessionSecret verifies the upstream session
// credential on the protected routes.
func (h *Handlers) Router(sessionSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// The terminal socket authenticates with its token, not a session.
		r.Get("/terminal/ws", h.TerminalWS)
		r.Get("/sessions/count", h.SessionCount)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.DB, sessionSecret))

			r.Post("/vms/{vmId}/terminal-token", h.IssueTerminalToken)
			r.Get("/vms/{vmId}/terminal-token", h.IssueTerminalToken)
			r.Get("/vms/{vmId}/terminal-audit", h.GetVMAuditLogs)
			r.Get("/logs", h.GetServerLogs)
		})
	})

	return r
}
