package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/bootgate/internal/gate"
	"github.com/MrSnakeDoc/bootgate/internal/handoff"
	"github.com/MrSnakeDoc/bootgate/internal/ledger"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

// Process exit codes.
const (
	ExitOK                    = 0
	ExitConfig                = 1
	ExitDependencyUnreachable = 2
	ExitStageFailed           = 3
	ExitLedgerUnavailable     = 4
	ExitHandoffFailed         = 5
	ExitInterrupted           = 130
)

// ConfigError is an invalid plan detected before any side effect.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("invalid bootstrap plan: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// InterruptedError is a run stopped because its own context was cancelled,
// usually by SIGINT or SIGTERM.
type InterruptedError struct {
	Err error
}

func (e *InterruptedError) Error() string { return fmt.Sprintf("bootstrap interrupted: %v", e.Err) }

func (e *InterruptedError) Unwrap() error { return e.Err }

// ExitCode maps a run error onto the process exit code. A typed failure wins
// over a cancellation it wraps; only an interrupted run or a bare
// cancellation exits 130.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		interrupted *InterruptedError
		unreachable *gate.UnreachableError
		execErr     *stage.ExecutionError
		unavailable *ledger.UnavailableError
		handoffErr  *handoff.Error
	)
	switch {
	case errors.As(err, &interrupted):
		return ExitInterrupted
	case errors.As(err, &unreachable):
		return ExitDependencyUnreachable
	case errors.As(err, &execErr):
		return ExitStageFailed
	case errors.As(err, &unavailable):
		return ExitLedgerUnavailable
	case errors.As(err, &handoffErr):
		return ExitHandoffFailed
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitConfig
	}
}

// Category names the error class for logs and the JSON result line.
func Category(err error) string {
	switch ExitCode(err) {
	case ExitOK:
		return ""
	case ExitInterrupted:
		return "interrupted"
	case ExitDependencyUnreachable:
		return "dependency_unreachable"
	case ExitStageFailed:
		return "stage_execution_failed"
	case ExitLedgerUnavailable:
		return "ledger_unavailable"
	case ExitHandoffFailed:
		return "handoff_failed"
	default:
		return "configuration"
	}
}
