// Package http exposes the administrative API and operational endpoints.
// Business endpoints (posts, comments, auth flows) live in the application
// services that wrap their operations with audit capture; this package only
// carries the security pipeline's own surface.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires middleware and routes.
func NewRouter(h *Handler, jwtSigningKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(ClientMetadata)
	r.Use(Auth(jwtSigningKey))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/admin/security-events", func(r chi.Router) {
		r.Use(RequireActor)
		r.Get("/", h.handleListEvents)
		r.Post("/{eventID}/process", h.handleProcessEvent)
	})

	return r
}
