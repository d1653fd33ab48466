package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/bootgate/internal/gate"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// DefaultHealthInterval is used when no interval is configured.
const DefaultHealthInterval = 30 * time.Second

// HealthRefresher re-probes the plan dependencies while the service runs so
// that the readiness gauges keep reflecting reality after bootstrap.
type HealthRefresher struct {
	targets  []gate.Target
	observer gate.Observer
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	last    map[string]probe.Outcome
	started bool
	cancel  context.CancelFunc
}

// NewHealthRefresher creates a refresher. observer may be nil.
func NewHealthRefresher(
	targets []gate.Target,
	observer gate.Observer,
	log logger.Logger,
	interval time.Duration,
) *HealthRefresher {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthRefresher{
		targets:  targets,
		observer: observer,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		last:     make(map[string]probe.Outcome, len(targets)),
	}
}

// Start runs one refresh immediately, then periodically until Stop or ctx.
func (h *HealthRefresher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.started, h.cancel = true, cancel
	h.mu.Unlock()

	h.Refresh(ctx)

	ticker := time.NewTicker(h.interval)
	go func() {
		defer close(h.doneCh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.Refresh(ctx)
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop cancels an in-flight refresh and waits for the loop to exit, so the
// clients can be closed right after. Safe to call more than once.
func (h *HealthRefresher) Stop() {
	h.mu.Lock()
	started, cancel := h.started, h.cancel
	h.mu.Unlock()

	h.stopOnce.Do(func() {
		close(h.stopCh)
		if cancel != nil {
			cancel()
		}
	})
	if started {
		<-h.doneCh
	}
}

// Refresh probes every target once and logs outcome transitions. Results of
// probes cut short by ctx are dropped.
func (h *HealthRefresher) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range h.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := probe.Check(ctx, t.Dependency, t.Checker, 1)
			if ctx.Err() != nil {
				return
			}
			if h.observer != nil {
				h.observer.ObserveProbe(res)
			}
			h.record(res)
		}()
	}
	wg.Wait()
}

// Outcome returns the last observed outcome of a dependency.
func (h *HealthRefresher) Outcome(name string) (probe.Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.last[name]
	return o, ok
}

func (h *HealthRefresher) record(res probe.Result) {
	h.mu.Lock()
	prev, seen := h.last[res.Dependency]
	h.last[res.Dependency] = res.Outcome
	h.mu.Unlock()

	if seen && prev == res.Outcome {
		return
	}
	if res.Ready() {
		if seen {
			h.logger.Info("dependency recovered", logger.String("dependency", res.Dependency))
		}
		return
	}
	h.logger.Warn("dependency degraded after bootstrap",
		logger.String("dependency", res.Dependency),
		logger.String("outcome", res.Outcome.String()),
		logger.Error(res.Err))
}
