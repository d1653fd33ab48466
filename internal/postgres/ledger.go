package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

const backend = "postgres"

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS bootgate_ledger (
	deployment_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL,
	marker        JSONB NOT NULL
)`

// Ledger stores the marker as a row keyed by deployment.
type Ledger struct {
	db         querier
	deployment string
	acquire    func(ctx context.Context) (lockConn, error)
}

// NewLedger creates the ledger table if needed. db is usually a *pgxpool.Pool.
func NewLedger(ctx context.Context, db querier, deployment string) (*Ledger, error) {
	if deployment == "" {
		return nil, errors.New("postgres ledger needs a deployment id")
	}
	if _, err := db.Exec(ctx, ledgerSchema); err != nil {
		return nil, ledger.Unavailable(backend, "init", fmt.Errorf("failed to create ledger table: %w", err))
	}

	l := &Ledger{db: db, deployment: deployment}
	if a, ok := db.(acquirer); ok {
		l.acquire = poolAcquire(a)
	}
	return l, nil
}

func (l *Ledger) IsComplete(ctx context.Context) (bool, error) {
	var exists bool
	err := l.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bootgate_ledger WHERE deployment_id = $1)`, l.deployment).Scan(&exists)
	if err != nil {
		return false, ledger.Unavailable(backend, "read", err)
	}
	return exists, nil
}

func (l *Ledger) MarkComplete(ctx context.Context, m ledger.Marker) error {
	m.DeploymentID = l.deployment
	data, err := json.Marshal(m)
	if err != nil {
		return ledger.Unavailable(backend, "write", err)
	}

	_, err = l.db.Exec(ctx,
		`INSERT INTO bootgate_ledger (deployment_id, run_id, completed_at, marker)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (deployment_id) DO NOTHING`,
		l.deployment, m.RunID, m.CompletedAt, data)
	if err != nil {
		return ledger.Unavailable(backend, "write", err)
	}
	return nil
}

func (l *Ledger) Inspect(ctx context.Context) (ledger.Marker, bool, error) {
	var raw []byte
	err := l.db.QueryRow(ctx,
		`SELECT marker FROM bootgate_ledger WHERE deployment_id = $1`, l.deployment).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Marker{}, false, nil
		}
		return ledger.Marker{}, false, ledger.Unavailable(backend, "read", err)
	}

	var m ledger.Marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return ledger.Marker{}, true, ledger.Unavailable(backend, "read", fmt.Errorf("corrupt marker: %w", err))
	}
	return m, true, nil
}

func (l *Ledger) Reset(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM bootgate_ledger WHERE deployment_id = $1`, l.deployment); err != nil {
		return ledger.Unavailable(backend, "reset", err)
	}
	return nil
}
