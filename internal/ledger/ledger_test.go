package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackends(t *testing.T) map[string]Ledger {
	t.Helper()
	dir := t.TempDir()

	fl, err := NewFileLedger(filepath.Join(dir, "state", "bootstrap.json"))
	require.NoError(t, err)

	sl, err := NewSQLiteLedger(context.Background(), filepath.Join(dir, "ledger.db"), "movies-prod")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sl.Close() })

	return map[string]Ledger{"file": fl, "sqlite": sl}
}

func marker(runID string) Marker {
	return Marker{
		DeploymentID: "movies-prod",
		RunID:        runID,
		CompletedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Stages:       []string{"movies_schema", "load_movies"},
		Version:      "1.2.0",
	}
}

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, l := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			done, err := l.IsComplete(ctx)
			require.NoError(t, err)
			assert.False(t, done)

			_, found, err := l.Inspect(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, l.MarkComplete(ctx, marker("run-1")))

			done, err = l.IsComplete(ctx)
			require.NoError(t, err)
			assert.True(t, done)

			m, found, err := l.Inspect(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "run-1", m.RunID)
			assert.Equal(t, []string{"movies_schema", "load_movies"}, m.Stages)
			assert.True(t, m.CompletedAt.Equal(marker("").CompletedAt))

			// the first marker wins
			require.NoError(t, l.MarkComplete(ctx, marker("run-2")))
			m, _, err = l.Inspect(ctx)
			require.NoError(t, err)
			assert.Equal(t, "run-1", m.RunID)

			require.NoError(t, l.Reset(ctx))
			done, err = l.IsComplete(ctx)
			require.NoError(t, err)
			assert.False(t, done)

			require.NoError(t, l.Reset(ctx), "reset of a missing marker is a no-op")
		})
	}
}

func TestFileLedgerLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLedger(filepath.Join(dir, "bootstrap.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bootstrap.json"), l.Path())

	require.NoError(t, l.MarkComplete(context.Background(), marker("run-1")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bootstrap.json", entries[0].Name())
}

func TestFileLedgerLegacySentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.done")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	l, err := NewFileLedger(path)
	require.NoError(t, err)

	done, err := l.IsComplete(context.Background())
	require.NoError(t, err)
	assert.True(t, done)

	_, found, err := l.Inspect(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFileLedgerUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewFileLedger(filepath.Join(blocker, "bootstrap.json"))

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "file", unavailable.Backend)
	assert.Equal(t, "init", unavailable.Op)
}

func TestSQLiteLedgerIsolatesDeployments(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	prod, err := NewSQLiteLedger(ctx, path, "prod")
	require.NoError(t, err)
	t.Cleanup(func() { _ = prod.Close() })
	require.NoError(t, prod.MarkComplete(ctx, marker("run-1")))

	staging, err := NewSQLiteLedger(ctx, path, "staging")
	require.NoError(t, err)
	t.Cleanup(func() { _ = staging.Close() })

	done, err := staging.IsComplete(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	m, found, err := prod.Inspect(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "prod", m.DeploymentID)
}

func TestUnavailableErrorUnwrap(t *testing.T) {
	cause := os.ErrPermission
	err := Unavailable("file", "write", cause)

	assert.ErrorIs(t, err, os.ErrPermission)
	assert.Equal(t, "ledger file unavailable during write: permission denied", err.Error())
}
