// Package handoff transfers control from the bootstrap run to the service.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

// Modes accepted by the plan.
const (
	ModeExec  = "exec"
	ModeServe = "serve"
	ModeNone  = "none"
)

// Error is a failed handoff.
type Error struct {
	Mode string
	Err  error
}

func (e *Error) Error() string {
	if e.Mode == "" {
		return fmt.Sprintf("handoff failed: %v", e.Err)
	}
	return fmt.Sprintf("handoff (%s) failed: %v", e.Mode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Exec replaces the current process with the service command so that it
// inherits the pid and receives signals directly.
type Exec struct {
	Argv   []string
	Env    map[string]string
	Logger logger.Logger

	lookPath func(file string) (string, error)
	exec     func(argv0 string, argv []string, envv []string) error
}

// NewExec builds an exec handoff.
func NewExec(argv []string, env map[string]string, log logger.Logger) (*Exec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("handoff command must not be empty")
	}
	return &Exec{
		Argv:     argv,
		Env:      env,
		Logger:   log,
		lookPath: exec.LookPath,
		exec:     execve,
	}, nil
}

// Handoff only returns when the replacement failed.
func (e *Exec) Handoff(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := e.lookPath(e.Argv[0])
	if err != nil {
		return &Error{Mode: ModeExec, Err: fmt.Errorf("resolving %s: %w", e.Argv[0], err)}
	}

	e.Logger.Info("handing off to service",
		logger.String("path", path),
		logger.Strings("args", e.Argv[1:]))
	_ = e.Logger.Sync()

	if err := e.exec(path, e.Argv, MergeEnv(os.Environ(), e.Env)); err != nil {
		return &Error{Mode: ModeExec, Err: fmt.Errorf("exec %s: %w", path, err)}
	}
	return nil
}

// MergeEnv overrides base KEY=VALUE entries with extra. Order is stable.
func MergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[k]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// Service is the in-process service target.
type Service interface {
	Run(ctx context.Context) error
}

// Serve runs the service in this process until it stops.
type Serve struct {
	Service Service
}

// Handoff blocks for the lifetime of the service.
func (s *Serve) Handoff(ctx context.Context) error {
	if err := s.Service.Run(ctx); err != nil {
		return &Error{Mode: ModeServe, Err: err}
	}
	return nil
}
