// Package ledger records whether the bootstrap stage sequence has completed
// for a deployment. A marker is written only after every stage succeeded and
// the orchestrator never removes it.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Marker is the durable completion record.
type Marker struct {
	DeploymentID string    `json:"deployment_id"`
	RunID        string    `json:"run_id"`
	CompletedAt  time.Time `json:"completed_at"`
	Stages       []string  `json:"stages"`
	Version      string    `json:"version,omitempty"`
}

// Ledger is implemented by every backend.
type Ledger interface {
	// IsComplete reports whether a marker exists for the deployment.
	IsComplete(ctx context.Context) (bool, error)
	// MarkComplete writes the marker. Writing over an existing marker is a no-op.
	MarkComplete(ctx context.Context, m Marker) error
	// Inspect returns the marker and whether it exists.
	Inspect(ctx context.Context) (Marker, bool, error)
	// Reset removes the marker. Operator use only.
	Reset(ctx context.Context) error
}

// Locker is implemented by backends that can serialize concurrent bootstrap
// runs across instances. unlock must be called once the marker is written.
type Locker interface {
	Lock(ctx context.Context, owner string) (unlock func(context.Context) error, err error)
}

// LeaseChecker is implemented by lockers whose lock can expire while held.
// CheckLease fails once owner no longer holds the lock.
type LeaseChecker interface {
	CheckLease(ctx context.Context, owner string) error
}

// UnavailableError wraps any failure to read or write the marker.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger %s unavailable during %s: %v", e.Backend, e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable builds an *UnavailableError.
func Unavailable(backend, op string, err error) error {
	return &UnavailableError{Backend: backend, Op: op, Err: err}
}
