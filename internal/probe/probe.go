// Package probe performs single readiness checks against infrastructure
// dependencies. A probe never retries; polling belongs to the gate.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady marks a dependency that answered but cannot serve the expected
// operation yet. Checkers wrap it; any other error means "cannot connect".
var ErrNotReady = errors.New("dependency not ready")

// Kind selects the checker used for a dependency.
type Kind string

const (
	KindRedis         Kind = "redis"
	KindElasticsearch Kind = "elasticsearch"
	KindPostgres      Kind = "postgres"
	KindHTTP          Kind = "http"
	KindTCP           Kind = "tcp"
)

// Valid reports whether k names a known checker.
func (k Kind) Valid() bool {
	switch k {
	case KindRedis, KindElasticsearch, KindPostgres, KindHTTP, KindTCP:
		return true
	}
	return false
}

// Dependency describes one external service and its polling budget.
type Dependency struct {
	Name   string
	Kind   Kind
	Target string // address, URL or DSN override; empty uses the service-wide setting

	Interval    time.Duration // wait between attempts, > 0
	MaxInterval time.Duration // cap when Backoff > 1; defaults to Interval
	Backoff     float64       // interval multiplier per failed attempt, >= 1

	Retries        int           // max attempts, 0 = until Budget or the global deadline
	Budget         time.Duration // max elapsed time, 0 = none
	AttemptTimeout time.Duration // bound for a single attempt, 0 = inherit ctx
	StartDelay     time.Duration // wait before the first attempt
}

// Outcome classifies a single attempt.
type Outcome int

const (
	Ready Outcome = iota
	NotReady
	Error
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case NotReady:
		return "not_ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Result is produced per attempt and never persisted.
type Result struct {
	Dependency string
	Outcome    Outcome
	Err        error
	Timestamp  time.Time
	Attempt    int
	Latency    time.Duration
}

// Ready reports whether the attempt succeeded.
func (r Result) Ready() bool { return r.Outcome == Ready }

// Checker performs exactly one round trip against a dependency.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Check runs one attempt and classifies it. It never panics: a panicking
// checker is reported as an Error outcome.
func Check(ctx context.Context, dep Dependency, checker Checker, attempt int) (res Result) {
	start := time.Now()
	res = Result{
		Dependency: dep.Name,
		Timestamp:  start,
		Attempt:    attempt,
	}

	if dep.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dep.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = Error
			res.Err = fmt.Errorf("checker panic: %v", r)
			res.Latency = time.Since(start)
		}
	}()

	err := checker.Check(ctx)
	res.Latency = time.Since(start)
	res.Err = err
	res.Outcome = Classify(err)
	return res
}

// Classify maps a checker error onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ready
	case errors.Is(err, ErrNotReady):
		return NotReady
	default:
		return Error
	}
}

// NotReadyf builds an error wrapping ErrNotReady.
func NotReadyf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotReady, fmt.Sprintf(format, args...))
}
