// Package cli exposes bootgate as a cobra command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/bootgate/internal/app"
	"github.com/MrSnakeDoc/bootgate/internal/config"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/version"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func exitWith(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: orchestrator.ExitCode(err), Err: err}
}

// root holds what every subcommand shares once PersistentPreRunE ran.
type root struct {
	planFile string
	logLevel string
	stdout   io.Writer

	cfg    *config.Config
	plan   *config.Plan
	logger logger.Logger
}

// NewRootCommand builds the command tree. Results are written to stdout.
func NewRootCommand(stdout io.Writer) *cobra.Command {
	r := &root{stdout: stdout}

	cmd := &cobra.Command{
		Use:   "bootgate",
		Short: "Readiness-gated, idempotent bootstrap for the movies search service",
		Long: `bootgate waits for the service's infrastructure to become ready, runs the
bootstrap stages once per deployment, records completion in a durable ledger
and then hands control to the service.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&r.planFile, "plan", "", "path to the bootstrap plan (default $BOOTGATE_PLAN)")
	cmd.PersistentFlags().StringVar(&r.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides $BOOTGATE_LOG_LEVEL")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return r.load()
	}

	cmd.AddCommand(
		newRunCommand(r),
		newServeCommand(r),
		newProbeCommand(r),
		newLedgerCommand(r),
	)
	return cmd
}

func (r *root) load() error {
	cfg, err := config.Load()
	if err != nil {
		return &ExitError{Code: orchestrator.ExitConfig, Err: fmt.Errorf("loading config: %w", err)}
	}
	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}
	if r.planFile != "" {
		cfg.PlanFile = r.planFile
	}
	r.cfg = cfg
	r.logger = logger.New(cfg.LogLevel, cfg.PrettyLog)
	r.logger.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))

	plan, err := config.LoadPlan(cfg.PlanFile)
	if err != nil {
		return &ExitError{Code: orchestrator.ExitConfig, Err: err}
	}
	r.plan = plan
	return nil
}

func (r *root) newApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, r.cfg, r.plan, r.logger)
	if err != nil {
		return nil, exitWith(err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the command tree and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return orchestrator.ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(stderr, "bootgate:", exitErr.Err)
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "bootgate:", err)
	return orchestrator.ExitConfig
}
