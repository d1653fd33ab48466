package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/bootgate/internal/handoff"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
)

// deploymentLister is implemented by shared ledgers that hold the markers of
// several deployments.
type deploymentLister interface {
	Deployments(ctx context.Context) ([]string, error)
}

func newServeCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the service surface only (health, readiness, metrics)",
		Long: `serve runs the HTTP surface without bootstrapping. It is the handoff target
when the plan execs into "bootgate serve", and reports ready only once the
ledger holds a completion marker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			if err := a.Serve(ctx); err != nil {
				return exitWith(&handoff.Error{Mode: handoff.ModeServe, Err: err})
			}
			return nil
		},
	}
}

func newProbeCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run the readiness gate only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.AwaitDependencies(ctx); err != nil {
				r.print(failedResult(a.DeploymentID(), err))
				return exitWith(err)
			}
			r.print(map[string]any{"status": "ok", "deployment": a.DeploymentID()})
			return nil
		},
	}
}

func newLedgerCommand(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset the bootstrap ledger",
	}

	var all bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Print the completion marker of this deployment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if all {
				lister, ok := a.Ledger().(deploymentLister)
				if !ok {
					return exitWith(&orchestrator.ConfigError{Err: errors.New("--all needs a shared ledger backend (redis)")})
				}
				ids, err := lister.Deployments(ctx)
				if err != nil {
					return exitWith(err)
				}
				if ids == nil {
					ids = []string{}
				}
				r.print(map[string]any{"deployments": ids})
				return nil
			}

			m, found, err := a.Ledger().Inspect(ctx)
			if err != nil {
				return exitWith(err)
			}
			out := map[string]any{"deployment": a.DeploymentID(), "complete": found}
			if found {
				out["marker"] = m
			}
			r.print(out)
			return nil
		},
	}

	var force bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Remove the completion marker so the next run bootstraps again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("refusing to reset the ledger without --force")
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := r.newApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Ledger().Reset(ctx); err != nil {
				return exitWith(err)
			}
			r.logger.Warn("bootstrap ledger reset", logger.String("deployment", a.DeploymentID()))
			r.print(map[string]any{"deployment": a.DeploymentID(), "complete": false})
			return nil
		},
	}
	status.Flags().BoolVar(&all, "all", false, "list every deployment with a marker in the shared ledger")
	reset.Flags().BoolVar(&force, "force", false, "confirm the reset")

	cmd.AddCommand(status, reset)
	return cmd
}
