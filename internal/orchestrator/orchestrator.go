// Package orchestrator sequences a bootstrap run: wait for dependencies,
// consult the ledger, run the stages, record completion and hand off to the
// service. Any failure stops the chain and no handoff happens.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/bootgate/internal/gate"
	"github.com/MrSnakeDoc/bootgate/internal/handoff"
	"github.com/MrSnakeDoc/bootgate/internal/ledger"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

// Gate blocks until every dependency is ready.
type Gate interface {
	AwaitAll(ctx context.Context, targets []gate.Target) error
}

// Runner executes the stages.
type Runner interface {
	Run(ctx context.Context, stages []stage.Stage) (stage.Report, error)
}

// Handoff transfers control to the service. It does not return on a
// successful process replacement.
type Handoff interface {
	Handoff(ctx context.Context) error
}

// Observer follows the state machine, usually a metrics recorder.
type Observer interface {
	ObserveState(s State)
	ObserveCompletion(at time.Time)
}

// Plan is what a run executes.
type Plan struct {
	DeploymentID string
	Policy       Policy
	Dependencies []gate.Target
	Stages       []stage.Stage
	// ReadinessTimeout is the global deadline for the gate, 0 = none.
	ReadinessTimeout time.Duration
	Version          string
}

// Outcome is the result of a run.
type Outcome struct {
	State  State
	RunID  string
	Err    error
	Report stage.Report
	// SkippedStages is true when the ledger said the stages already ran.
	SkippedStages bool
}

// Orchestrator runs a Plan. It holds no locks of its own: mutual exclusion
// between instances is delegated to ledgers that implement ledger.Locker.
type Orchestrator struct {
	gate     Gate
	ledger   ledger.Ledger
	runner   Runner
	handoff  Handoff
	logger   logger.Logger
	observer Observer

	// release runs right before the handoff to free clients, flush logs
	// and push metrics.
	release []func(ctx context.Context) error

	newRunID func() string
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver plugs a state observer.
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) { orc.observer = o }
}

// WithRelease adds a hook run before the handoff. Hook errors are logged.
func WithRelease(fn func(ctx context.Context) error) Option {
	return func(orc *Orchestrator) { orc.release = append(orc.release, fn) }
}

// WithRunID overrides run id generation, used by tests.
func WithRunID(fn func() string) Option {
	return func(orc *Orchestrator) { orc.newRunID = fn }
}

// New creates an Orchestrator. handoff may be nil, the run then completes
// after the stages.
func New(g Gate, l ledger.Ledger, r Runner, h Handoff, log logger.Logger, opts ...Option) *Orchestrator {
	orc := &Orchestrator{
		gate:     g,
		ledger:   l,
		runner:   r,
		handoff:  h,
		logger:   log,
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(orc)
	}
	return orc
}

// Validate checks the plan before any side effect.
func Validate(p Plan) error {
	if p.DeploymentID == "" {
		return &ConfigError{Err: errors.New("deployment id must not be empty")}
	}
	if _, err := ParsePolicy(string(p.Policy)); err != nil {
		return &ConfigError{Err: err}
	}
	if err := stage.Validate(p.Stages); err != nil {
		return &ConfigError{Err: err}
	}
	if p.Policy == PolicyAlways {
		for _, s := range p.Stages {
			if !s.Idempotent {
				return &ConfigError{Err: fmt.Errorf("policy %q requires idempotent stages, %q is not", PolicyAlways, s.Name)}
			}
		}
	}
	return nil
}

// Run executes the plan once. The returned Outcome always carries the
// terminal state; Err is nil only when State is Completed.
func (o *Orchestrator) Run(ctx context.Context, p Plan) Outcome {
	out := Outcome{RunID: o.newRunID()}
	log := o.logger.With(
		logger.String("run_id", out.RunID),
		logger.String("deployment", p.DeploymentID))

	fail := func(err error) Outcome {
		if errors.Is(ctx.Err(), context.Canceled) {
			err = &InterruptedError{Err: err}
		}
		out.State = Failed
		out.Err = err
		o.enter(log, Failed)
		log.Error("bootstrap failed",
			logger.String("category", Category(err)),
			logger.Error(err))
		return out
	}

	if err := Validate(p); err != nil {
		return fail(err)
	}
	if p.Policy == "" {
		p.Policy = PolicyOnce
	}
	if p.Policy == PolicyOnce {
		for _, s := range p.Stages {
			if !s.Idempotent {
				log.Warn("stage is not idempotent, a crash before the ledger write will re-run it",
					logger.String("stage", s.Name))
			}
		}
	}

	log.Info("bootstrap started",
		logger.String("policy", string(p.Policy)),
		logger.Int("dependencies", len(p.Dependencies)),
		logger.Int("stages", len(p.Stages)))

	// AwaitingDependencies
	o.enter(log, AwaitingDependencies)
	if err := o.awaitDependencies(ctx, p); err != nil {
		return fail(err)
	}

	// CheckingLedger
	o.enter(log, CheckingLedger)
	done, unlock, err := o.checkLedger(ctx, log, p, out.RunID)
	if err != nil {
		return fail(err)
	}

	if done {
		out.SkippedStages = true
		log.Info("ledger reports bootstrap complete, skipping stages")
	} else {
		// RunningStages
		o.enter(log, RunningStages)
		report, err := o.runner.Run(ctx, p.Stages)
		out.Report = report
		if err != nil {
			o.unlock(log, unlock)
			return fail(err)
		}

		if err := o.checkLease(ctx, unlock, out.RunID); err != nil {
			o.unlock(log, unlock)
			return fail(err)
		}

		m := ledger.Marker{
			DeploymentID: p.DeploymentID,
			RunID:        out.RunID,
			CompletedAt:  o.now().UTC(),
			Stages:       report.Executed(),
			Version:      p.Version,
		}
		err = o.markComplete(ctx, m)
		o.unlock(log, unlock)
		if err != nil {
			return fail(err)
		}
		if o.observer != nil {
			o.observer.ObserveCompletion(m.CompletedAt)
		}
		log.Info("bootstrap stages complete, ledger updated",
			logger.Strings("stages", m.Stages))
	}

	// HandingOff
	if o.handoff != nil {
		o.enter(log, HandingOff)
		o.releaseResources(ctx, log)
		if err := o.handoff.Handoff(ctx); err != nil {
			var handoffErr *handoff.Error
			if !errors.As(err, &handoffErr) && !errors.Is(err, context.Canceled) {
				err = &handoff.Error{Err: err}
			}
			return fail(err)
		}
	}

	out.State = Completed
	o.enter(log, Completed)
	log.Info("bootstrap completed")
	return out
}

func (o *Orchestrator) enter(log logger.Logger, s State) {
	log.Debug("state transition", logger.String("state", s.String()))
	if o.observer != nil {
		o.observer.ObserveState(s)
	}
}

func (o *Orchestrator) awaitDependencies(ctx context.Context, p Plan) error {
	if p.ReadinessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.ReadinessTimeout)
		defer cancel()
	}
	return o.gate.AwaitAll(ctx, p.Dependencies)
}

// checkLedger reports whether the stages must be skipped. When the ledger can
// lock, the lock is held on return (unlock non-nil) until the marker is
// written, so concurrent instances serialize on the check-and-set.
func (o *Orchestrator) checkLedger(ctx context.Context, log logger.Logger, p Plan, runID string) (bool, func(context.Context) error, error) {
	if p.Policy == PolicyOnce {
		done, err := o.isComplete(ctx)
		if err != nil || done {
			return done, nil, err
		}
	}

	locker, ok := o.ledger.(ledger.Locker)
	if !ok {
		return false, nil, nil
	}

	log.Info("acquiring bootstrap lock")
	unlock, err := locker.Lock(ctx, runID)
	if err != nil {
		return false, nil, asUnavailable(err, "lock")
	}
	log.Info("bootstrap lock acquired")

	if p.Policy == PolicyOnce {
		// another instance may have finished while we waited
		done, err := o.isComplete(ctx)
		if err != nil || done {
			o.unlock(log, unlock)
			return done, nil, err
		}
	}
	return false, unlock, nil
}

// checkLease fails the run when the lock expired while the stages ran, since
// another instance may have started them too.
func (o *Orchestrator) checkLease(ctx context.Context, unlock func(context.Context) error, runID string) error {
	if unlock == nil {
		return nil
	}
	lc, ok := o.ledger.(ledger.LeaseChecker)
	if !ok {
		return nil
	}
	if err := lc.CheckLease(ctx, runID); err != nil {
		return asUnavailable(err, "lock")
	}
	return nil
}

func (o *Orchestrator) isComplete(ctx context.Context) (bool, error) {
	done, err := o.ledger.IsComplete(ctx)
	if err != nil {
		return false, asUnavailable(err, "read")
	}
	return done, nil
}

func (o *Orchestrator) markComplete(ctx context.Context, m ledger.Marker) error {
	if err := o.ledger.MarkComplete(ctx, m); err != nil {
		return asUnavailable(err, "write")
	}
	return nil
}

func (o *Orchestrator) unlock(log logger.Logger, unlock func(context.Context) error) {
	if unlock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlock(ctx); err != nil {
		log.Warn("failed to release bootstrap lock", logger.Error(err))
	}
}

func (o *Orchestrator) releaseResources(ctx context.Context, log logger.Logger) {
	for _, fn := range o.release {
		if err := fn(ctx); err != nil {
			log.Warn("failed to release resource before handoff", logger.Error(err))
		}
	}
}

// asUnavailable keeps a cancellation as is and makes sure any other ledger
// failure is classified as unavailable.
func asUnavailable(err error, op string) error {
	var unavailable *ledger.UnavailableError
	if errors.As(err, &unavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return ledger.Unavailable("ledger", op, err)
}
