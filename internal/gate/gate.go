// Package gate blocks until every declared dependency passes its probe.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// Target pairs a dependency with the checker that probes it.
type Target struct {
	Dependency probe.Dependency
	Checker    probe.Checker
}

// Observer receives every probe result. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveProbe(res probe.Result)
}

// UnreachableError reports the dependency that exhausted its budget first.
type UnreachableError struct {
	Dependency string
	Attempts   int
	Elapsed    time.Duration
	Last       probe.Result
	Err        error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("dependency %s unreachable after %d attempts in %s: %v",
		e.Dependency, e.Attempts, e.Elapsed.Truncate(time.Millisecond), e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Gate runs one polling loop per dependency.
type Gate struct {
	logger        logger.Logger
	observer      Observer
	warnThreshold int
	after         func(time.Duration) <-chan time.Time
	now           func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver plugs a metrics sink into every attempt.
func WithObserver(o Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// WithWarnThreshold sets how many failed attempts are logged at warn level
// before escalating to error.
func WithWarnThreshold(n int) Option {
	return func(g *Gate) { g.warnThreshold = n }
}

// WithClock replaces the timer source, used by tests.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(g *Gate) {
		g.now = now
		g.after = after
	}
}

// New creates a Gate.
func New(log logger.Logger, opts ...Option) *Gate {
	g := &Gate{
		logger:        log,
		warnThreshold: 3,
		after:         time.After,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AwaitAll blocks until every target is ready. ctx carries the global
// deadline. The first dependency to exhaust its budget cancels all the other
// loops and is returned as *UnreachableError.
func (g *Gate) AwaitAll(ctx context.Context, targets []Target) error {
	if err := validate(targets); err != nil {
		return err
	}
	if len(targets) == 0 {
		g.logger.Info("no dependencies declared, gate open")
		return nil
	}

	started := g.now()
	g.logger.Info("awaiting dependencies", logger.Int("count", len(targets)))

	eg, gctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		eg.Go(func() error {
			return g.await(gctx, t)
		})
	}

	if err := eg.Wait(); err != nil {
		var unreachable *UnreachableError
		if errors.As(err, &unreachable) {
			g.logger.Error("readiness gate failed",
				logger.String("dependency", unreachable.Dependency),
				logger.Int("attempts", unreachable.Attempts),
				logger.Error(unreachable.Err))
		}
		return err
	}

	g.logger.Info("all dependencies ready",
		logger.Int("count", len(targets)),
		logger.Duration("elapsed", g.now().Sub(started)))
	return nil
}

func (g *Gate) await(ctx context.Context, t Target) error {
	dep := t.Dependency
	log := &retryLogger{logger: g.logger.With(logger.String("dependency", dep.Name))}
	started := g.now()

	if dep.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return g.stopped(ctx, dep, 0, started, probe.Result{})
		case <-g.after(dep.StartDelay):
		}
	}

	wait := dep.Interval
	var last probe.Result
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return g.stopped(ctx, dep, attempt-1, started, last)
		}

		last = probe.Check(ctx, dep, t.Checker, attempt)
		if g.observer != nil {
			g.observer.ObserveProbe(last)
		}

		if last.Ready() {
			log.logReady(attempt, g.now().Sub(started))
			return nil
		}
		if ctx.Err() != nil {
			return g.stopped(ctx, dep, attempt, started, last)
		}

		elapsed := g.now().Sub(started)
		if dep.Retries > 0 && attempt >= dep.Retries {
			return &UnreachableError{
				Dependency: dep.Name,
				Attempts:   attempt,
				Elapsed:    elapsed,
				Last:       last,
				Err:        fmt.Errorf("retry budget of %d attempts exhausted: %w", dep.Retries, last.Err),
			}
		}
		if dep.Budget > 0 && elapsed+wait > dep.Budget {
			return &UnreachableError{
				Dependency: dep.Name,
				Attempts:   attempt,
				Elapsed:    elapsed,
				Last:       last,
				Err:        fmt.Errorf("time budget of %s exhausted: %w", dep.Budget, last.Err),
			}
		}

		log.logRetry(last, remaining(ctx, g.now()), wait, g.warnThreshold)

		select {
		case <-ctx.Done():
			return g.stopped(ctx, dep, attempt, started, last)
		case <-g.after(wait):
		}

		wait = next(dep, wait)
	}
}

// stopped converts a context stop into the loop's result. A global deadline
// is a budget exhaustion for this dependency, a cancellation is not.
func (g *Gate) stopped(ctx context.Context, dep probe.Dependency, attempts int, started time.Time, last probe.Result) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	cause := ctx.Err()
	if last.Err != nil {
		cause = fmt.Errorf("%w (last probe: %v)", ctx.Err(), last.Err)
	}
	return &UnreachableError{
		Dependency: dep.Name,
		Attempts:   attempts,
		Elapsed:    g.now().Sub(started),
		Last:       last,
		Err:        cause,
	}
}

// next grows the wait the way the redis connector did: multiply, then cap.
func next(dep probe.Dependency, wait time.Duration) time.Duration {
	if dep.Backoff <= 1 {
		return wait
	}
	wait = time.Duration(float64(wait) * dep.Backoff)
	if dep.MaxInterval > 0 && wait > dep.MaxInterval {
		wait = dep.MaxInterval
	}
	return wait
}

// remaining returns the time left before the context deadline, -1 if none.
func remaining(ctx context.Context, now time.Time) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return -1
	}
	return deadline.Sub(now)
}

func validate(targets []Target) error {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		dep := t.Dependency
		if dep.Name == "" {
			return errors.New("dependency name must not be empty")
		}
		if seen[dep.Name] {
			return fmt.Errorf("duplicate dependency %q", dep.Name)
		}
		seen[dep.Name] = true
		if dep.Interval <= 0 {
			return fmt.Errorf("dependency %q: interval must be > 0, got %v", dep.Name, dep.Interval)
		}
		if dep.Retries < 0 {
			return fmt.Errorf("dependency %q: retries must be >= 0, got %d", dep.Name, dep.Retries)
		}
		if t.Checker == nil {
			return fmt.Errorf("dependency %q: no checker", dep.Name)
		}
	}
	return nil
}
