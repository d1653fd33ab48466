package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Readyz reports ready only once the bootstrap marker exists, so traffic is
// never routed to an instance serving an empty index.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		resp, status := readyzResponse{Ready: true}, http.StatusOK
		if d.Ledger == nil {
			resp, status = readyzResponse{Reason: "no ledger configured"}, http.StatusServiceUnavailable
		} else if ok, err := d.Ledger.IsComplete(r.Context()); err != nil {
			d.Logger.Warn("readyz: ledger check failed", logger.Error(err))
			resp, status = readyzResponse{Reason: "ledger unavailable"}, http.StatusServiceUnavailable
		} else if !ok {
			resp, status = readyzResponse{Reason: "bootstrap not complete"}, http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
