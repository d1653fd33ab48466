package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/bootgate/internal/gate"
	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

// result is the single JSON line printed by run.
type result struct {
	Status        string       `json:"status"`
	State         string       `json:"state"`
	RunID         string       `json:"run_id"`
	Deployment    string       `json:"deployment"`
	SkippedStages bool         `json:"skipped_stages"`
	ExitCode      int          `json:"exit_code"`
	Category      string       `json:"category,omitempty"`
	Error         string       `json:"error,omitempty"`
	Dependency    string       `json:"dependency,omitempty"`
	Stage         string       `json:"stage,omitempty"`
	Stages        stage.Report `json:"stages,omitempty"`
}

func newRunCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Gate on dependencies, run the bootstrap stages once and hand off",
		Long: `run executes the full bootstrap: wait for every dependency declared in the
plan, consult the ledger, run the stages when the deployment was never
bootstrapped, record completion and hand off to the service.

A JSON result line is printed to stdout. The exit code tells the failure
class: 1 configuration, 2 dependency unreachable, 3 stage failed, 4 ledger
unavailable, 5 handoff failed, 130 interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			return r.run(ctx)
		},
	}
}

func (r *root) run(ctx context.Context) error {
	a, err := r.newApp(ctx)
	if err != nil {
		r.print(failedResult(r.plan.Deployment(r.cfg.DeploymentID), err))
		return err
	}
	defer func() { _ = a.Close() }()

	outcome := a.Bootstrap(ctx)

	res := result{
		Status:        "ok",
		State:         outcome.State.String(),
		RunID:         outcome.RunID,
		Deployment:    a.DeploymentID(),
		SkippedStages: outcome.SkippedStages,
		ExitCode:      orchestrator.ExitCode(outcome.Err),
		Stages:        outcome.Report,
	}
	if outcome.Err != nil {
		res.Status = "error"
		res.Category = orchestrator.Category(outcome.Err)
		res.Error = outcome.Err.Error()
		describe(&res, outcome.Err)

		pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.PushMetrics(pushCtx)
		cancel()
	}
	r.print(res)

	return exitWith(outcome.Err)
}

// describe names the failing dependency or stage.
func describe(res *result, err error) {
	var unreachable *gate.UnreachableError
	var execErr *stage.ExecutionError
	switch {
	case errors.As(err, &unreachable):
		res.Dependency = unreachable.Dependency
	case errors.As(err, &execErr):
		res.Stage = execErr.Stage
	}
}

func failedResult(deployment string, err error) result {
	res := result{
		Status:     "error",
		State:      orchestrator.Failed.String(),
		Deployment: deployment,
		ExitCode:   orchestrator.ExitCode(err),
		Category:   orchestrator.Category(err),
		Error:      err.Error(),
	}
	describe(&res, err)
	return res
}

func (r *root) print(v any) {
	if err := json.NewEncoder(r.stdout).Encode(v); err != nil {
		fmt.Fprintf(r.stdout, `{"status":"error","error":%q}`+"\n", err.Error())
	}
}
