package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/httpserver/handlers"
)

func init() { Register(registerProbes) }

// Liveness and readiness stay open to the orchestrator's kubelet-style probes.
func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/healthz", handlers.Healthz(d))
	r.Get("/readyz", handlers.Readyz(d))
}
