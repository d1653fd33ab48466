package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/bootgate/internal/httpserver/mw"
)

func init() { Register(registerOps, allowListed) }

func allowListed(d deps.Deps) func(http.Handler) http.Handler {
	return mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)
}

func registerOps(r chi.Router, d deps.Deps) {
	r.Get("/infra", handlers.Infra(d))
	r.Get("/bootstrap", handlers.Bootstrap(d))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
}
