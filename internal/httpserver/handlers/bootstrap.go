package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Bootstrap returns the completion marker of this deployment.
func Bootstrap(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if d.Ledger == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no ledger configured"})
			return
		}

		m, found, err := d.Ledger.Inspect(r.Context())
		switch {
		case err != nil:
			d.Logger.Warn("bootstrap: ledger inspect failed", logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger unavailable"})
		case !found:
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "bootstrap not complete"})
		default:
			writeJSON(w, http.StatusOK, m)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
