package stage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

// Observer is notified when a stage finishes or is skipped.
type Observer interface {
	ObserveStage(res Result)
}

// Runner executes stages sequentially.
type Runner struct {
	logger   logger.Logger
	observer Observer
}

// NewRunner creates a Runner. observer may be nil.
func NewRunner(log logger.Logger, observer Observer) *Runner {
	return &Runner{logger: log, observer: observer}
}

// Validate checks that ordinals and names are unique and every stage has an
// action.
func Validate(stages []Stage) error {
	ordinals := make(map[int]string, len(stages))
	names := make(map[string]bool, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d: name must not be empty", s.Ordinal)
		}
		if prev, ok := ordinals[s.Ordinal]; ok {
			return fmt.Errorf("stages %q and %q share ordinal %d", prev, s.Name, s.Ordinal)
		}
		ordinals[s.Ordinal] = s.Name
		if names[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		names[s.Name] = true
		if s.Action == nil {
			return fmt.Errorf("stage %q: no action", s.Name)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("stage %q: timeout must be >= 0", s.Name)
		}
	}
	return nil
}

// Sorted returns a copy of stages in ascending ordinal order.
func Sorted(stages []Stage) []Stage {
	out := slices.Clone(stages)
	slices.SortStableFunc(out, func(a, b Stage) int { return a.Ordinal - b.Ordinal })
	return out
}

// Run executes stages in ascending ordinal order. The first failing stage
// stops the run and is returned as *ExecutionError; the stages after it are
// reported as skipped. A cancelled ctx fails the next stage before it starts.
func (r *Runner) Run(ctx context.Context, stages []Stage) (Report, error) {
	if err := Validate(stages); err != nil {
		return nil, err
	}

	ordered := Sorted(stages)
	report := make(Report, 0, len(ordered))
	total := len(ordered)

	for i, s := range ordered {
		log := r.logger.With(
			logger.String("stage", s.Name),
			logger.Int("ordinal", s.Ordinal),
			logger.String("progress", fmt.Sprintf("[%d/%d]", i+1, total)))

		log.Info("stage start")
		started := time.Now()
		err := ctx.Err()
		if err == nil {
			err = r.execute(ctx, s)
		}
		d := time.Since(started)

		if err != nil {
			log.Error("stage failed", logger.Duration("duration", d), logger.Error(err))
			r.record(&report, Result{Ordinal: s.Ordinal, Name: s.Name, Status: StatusFailed, Duration: d, Message: err.Error()})
			for _, rest := range ordered[i+1:] {
				r.record(&report, Result{Ordinal: rest.Ordinal, Name: rest.Name, Status: StatusSkipped})
			}
			return report, &ExecutionError{Ordinal: s.Ordinal, Stage: s.Name, Err: err}
		}

		log.Info("stage success", logger.Duration("duration", d))
		r.record(&report, Result{Ordinal: s.Ordinal, Name: s.Name, Status: StatusSuccess, Duration: d})
	}

	return report, nil
}

func (r *Runner) record(report *Report, res Result) {
	*report = append(*report, res)
	if r.observer != nil {
		r.observer.ObserveStage(res)
	}
}

func (r *Runner) execute(ctx context.Context, s Stage) (err error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	err = s.Action.Run(ctx)
	if err != nil && s.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", s.Timeout, err)
	}
	return err
}
