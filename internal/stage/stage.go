// Package stage runs the ordered bootstrap steps. Steps run one at a time in
// ascending ordinal order and the first failure aborts the sequence. Nothing
// is rolled back.
package stage

import (
	"context"
	"fmt"
	"time"
)

// Action performs the work of a stage.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context) error

func (f ActionFunc) Run(ctx context.Context) error { return f(ctx) }

// Stage is one step of the bootstrap pipeline.
type Stage struct {
	Ordinal    int
	Name       string
	Action     Action
	Idempotent bool
	Timeout    time.Duration // 0 = inherit ctx
}

// Status mirrors the step model of the run report.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result describes one stage of a run.
type Result struct {
	Ordinal  int           `json:"ordinal"`
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Report lists every stage in execution order.
type Report []Result

// Executed returns the names of the stages whose action was invoked.
func (r Report) Executed() []string {
	var names []string
	for _, res := range r {
		if res.Status != StatusSkipped {
			names = append(names, res.Name)
		}
	}
	return names
}

// Skipped returns the names of stages that never ran.
func (r Report) Skipped() []string {
	var names []string
	for _, res := range r {
		if res.Status == StatusSkipped {
			names = append(names, res.Name)
		}
	}
	return names
}

// ExecutionError identifies the stage that aborted the run.
type ExecutionError struct {
	Ordinal int
	Stage   string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Ordinal, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
