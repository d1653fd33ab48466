package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const backendSQLite = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bootgate_ledger (
	deployment_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	completed_at  TEXT NOT NULL,
	marker        TEXT NOT NULL
)`

// SQLiteLedger keeps one row per deployment in a local sqlite database.
type SQLiteLedger struct {
	db           *sql.DB
	deploymentID string
}

// NewSQLiteLedger opens (or creates) the database at path.
func NewSQLiteLedger(ctx context.Context, path, deploymentID string) (*SQLiteLedger, error) {
	if path == "" || deploymentID == "" {
		return nil, errors.New("sqlite ledger needs a path and a deployment id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Unavailable(backendSQLite, "init", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, Unavailable(backendSQLite, "init", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, Unavailable(backendSQLite, "init", fmt.Errorf("failed to create schema: %w", err))
	}

	return &SQLiteLedger{db: db, deploymentID: deploymentID}, nil
}

func (l *SQLiteLedger) IsComplete(ctx context.Context) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM bootgate_ledger WHERE deployment_id = ?`, l.deploymentID).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, Unavailable(backendSQLite, "read", err)
	}
}

func (l *SQLiteLedger) Inspect(ctx context.Context) (Marker, bool, error) {
	var raw string
	err := l.db.QueryRowContext(ctx,
		`SELECT marker FROM bootgate_ledger WHERE deployment_id = ?`, l.deploymentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Marker{}, false, nil
		}
		return Marker{}, false, Unavailable(backendSQLite, "read", err)
	}

	var m Marker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Marker{}, true, Unavailable(backendSQLite, "read", fmt.Errorf("corrupt marker: %w", err))
	}
	return m, true, nil
}

func (l *SQLiteLedger) MarkComplete(ctx context.Context, m Marker) error {
	m.DeploymentID = l.deploymentID
	data, err := json.Marshal(m)
	if err != nil {
		return Unavailable(backendSQLite, "write", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO bootgate_ledger (deployment_id, run_id, completed_at, marker)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(deployment_id) DO NOTHING`,
		l.deploymentID, m.RunID, m.CompletedAt.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return Unavailable(backendSQLite, "write", err)
	}
	return nil
}

func (l *SQLiteLedger) Reset(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM bootgate_ledger WHERE deployment_id = ?`, l.deploymentID); err != nil {
		return Unavailable(backendSQLite, "reset", err)
	}
	return nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
