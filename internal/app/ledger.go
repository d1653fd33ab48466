package app

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

// deferredLedger opens its backend on first use. Backends that create their
// schema on open cannot be built before the readiness gate has passed.
type deferredLedger struct {
	backend string
	open    func(ctx context.Context) (ledger.Ledger, error)

	mu sync.Mutex
	l  ledger.Ledger
}

func newDeferredLedger(backend string, open func(ctx context.Context) (ledger.Ledger, error)) *deferredLedger {
	return &deferredLedger{backend: backend, open: open}
}

// get retries the open on every call until it succeeds once.
func (d *deferredLedger) get(ctx context.Context) (ledger.Ledger, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.l != nil {
		return d.l, nil
	}
	l, err := d.open(ctx)
	if err != nil {
		return nil, asUnavailable(d.backend, err)
	}
	d.l = l
	return l, nil
}

func asUnavailable(backend string, err error) error {
	var unavailable *ledger.UnavailableError
	if errors.As(err, &unavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return ledger.Unavailable(backend, "init", err)
}

func (d *deferredLedger) IsComplete(ctx context.Context) (bool, error) {
	l, err := d.get(ctx)
	if err != nil {
		return false, err
	}
	return l.IsComplete(ctx)
}

func (d *deferredLedger) MarkComplete(ctx context.Context, m ledger.Marker) error {
	l, err := d.get(ctx)
	if err != nil {
		return err
	}
	return l.MarkComplete(ctx, m)
}

func (d *deferredLedger) Inspect(ctx context.Context) (ledger.Marker, bool, error) {
	l, err := d.get(ctx)
	if err != nil {
		return ledger.Marker{}, false, err
	}
	return l.Inspect(ctx)
}

func (d *deferredLedger) Reset(ctx context.Context) error {
	l, err := d.get(ctx)
	if err != nil {
		return err
	}
	return l.Reset(ctx)
}

// Lock delegates to the backend when it can lock, otherwise it is a no-op.
func (d *deferredLedger) Lock(ctx context.Context, owner string) (func(context.Context) error, error) {
	l, err := d.get(ctx)
	if err != nil {
		return nil, err
	}
	if locker, ok := l.(ledger.Locker); ok {
		return locker.Lock(ctx, owner)
	}
	return func(context.Context) error { return nil }, nil
}

// CheckLease delegates to the backend when its lock can expire.
func (d *deferredLedger) CheckLease(ctx context.Context, owner string) error {
	l, err := d.get(ctx)
	if err != nil {
		return err
	}
	if lc, ok := l.(ledger.LeaseChecker); ok {
		return lc.CheckLease(ctx, owner)
	}
	return nil
}
