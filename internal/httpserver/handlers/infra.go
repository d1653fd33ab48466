package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

const defaultCheckTimeout = 2 * time.Second

type componentStatus struct {
	OK        bool    `json:"ok"`
	Kind      string  `json:"kind"`
	Outcome   string  `json:"outcome"`
	Breaker   string  `json:"breaker"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type infraResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components"`
}

// NewBreaker trips after 3 consecutive failures and probes again after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// Infra checks every component once per request. Each checker sits behind
// its own breaker so a dead dependency does not stall the endpoint.
func Infra(d deps.Deps) http.HandlerFunc {
	breakers := make([]*gobreaker.CircuitBreaker, len(d.Components))
	for i, c := range d.Components {
		breakers[i] = NewBreaker(c.Name)
	}
	timeout := d.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]componentStatus, len(d.Components))

		var g errgroup.Group
		for i, c := range d.Components {
			g.Go(func() error {
				statuses[i] = checkComponent(r.Context(), c, breakers[i], timeout)
				return nil
			})
		}
		_ = g.Wait()

		resp := infraResponse{Status: "ok", Components: make(map[string]componentStatus, len(statuses))}
		for i, c := range d.Components {
			st := statuses[i]
			resp.Components[c.Name] = st
			if st.OK {
				continue
			}
			if c.Critical {
				resp.Status = "critical"
			} else if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if resp.Status == "critical" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func checkComponent(ctx context.Context, c deps.Component, cb *gobreaker.CircuitBreaker, timeout time.Duration) componentStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, c.Checker.Check(ctx)
	})
	st := componentStatus{
		OK:        err == nil,
		Kind:      string(c.Kind),
		Outcome:   probe.Classify(err).String(),
		Breaker:   cb.State().String(),
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		st.Error = err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			st.Error = "circuit open"
		}
	}
	return st
}
