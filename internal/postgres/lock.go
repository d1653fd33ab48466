package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

// lockConn is a dedicated session: advisory locks belong to the connection
// that took them.
type lockConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

type acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

func poolAcquire(a acquirer) func(context.Context) (lockConn, error) {
	return func(ctx context.Context) (lockConn, error) {
		conn, err := a.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Lock takes a session-level advisory lock keyed by the deployment id. The
// call blocks until the lock is granted or ctx ends.
func (l *Ledger) Lock(ctx context.Context, owner string) (func(context.Context) error, error) {
	if l.acquire == nil {
		return nil, ledger.Unavailable(backend, "lock", errors.New("connection pool does not support dedicated sessions"))
	}

	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, ledger.Unavailable(backend, "lock", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, l.deployment); err != nil {
		conn.Release()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ledger.Unavailable(backend, "lock", err)
	}

	unlock := func(ctx context.Context) error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.deployment); err != nil {
			return ledger.Unavailable(backend, "unlock", err)
		}
		return nil
	}
	return unlock, nil
}
