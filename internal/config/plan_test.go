package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

const moviesPlan = `
policy: once
readiness_timeout: 2m
ledger:
  backend: redis
  lock_ttl: 5m
dependencies:
  - name: cache
    kind: redis
    interval: 2s
    retries: 10
  - name: index
    kind: elasticsearch
    interval: 1s
    max_interval: 8s
    backoff: 2
    budget: 1m
  - name: upstream
    kind: http
    target: ${UPSTREAM_URL}
    critical: false
stages:
  - name: schema
    action: movies_schema
    idempotent: true
  - name: movies
    action: load_movies
    idempotent: true
    timeout: 10m
  - name: warm
    command: ["sh", "-c", "echo $HOME"]
    env:
      MODE: ${WARM_MODE:-full}
handoff:
  mode: exec
  command: ["gunicorn", "main:app"]
  env:
    ES_HOST: http://es:9200
etl:
  min_rating: 6.5
  bulk_rate: 4
`

func TestParsePlan(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream:8080/health")

	p, err := ParsePlan([]byte(moviesPlan))
	require.NoError(t, err)

	assert.Equal(t, "once", p.Policy)
	assert.Equal(t, 2*time.Minute, p.ReadinessTimeout)
	assert.Equal(t, LedgerRedis, p.Ledger.Backend)
	assert.Equal(t, 5*time.Minute, p.Ledger.LockTTL)

	require.Len(t, p.Dependencies, 3)
	cache := p.Dependencies[0].Dependency()
	assert.Equal(t, probe.KindRedis, cache.Kind)
	assert.Equal(t, 2*time.Second, cache.MaxInterval, "max interval defaults to interval")
	assert.Equal(t, 1.0, cache.Backoff)
	assert.Equal(t, 10, cache.Retries)
	assert.Equal(t, 8*time.Second, p.Dependencies[1].MaxInterval)
	assert.Equal(t, "http://upstream:8080/health", p.Dependencies[2].Target)
	assert.True(t, p.Dependencies[0].IsCritical())
	assert.False(t, p.Dependencies[2].IsCritical())

	require.Len(t, p.Stages, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{p.Stages[0].Ordinal, p.Stages[1].Ordinal, p.Stages[2].Ordinal})
	assert.Equal(t, 10*time.Minute, p.Stages[1].Timeout)
	assert.Equal(t, []string{"sh", "-c", "echo $HOME"}, p.Stages[2].Command, "bare $VAR is left for the shell")
	assert.Equal(t, "full", p.Stages[2].Env["MODE"])
	assert.False(t, p.Stages[2].Idempotent)

	assert.Equal(t, "exec", p.Handoff.Mode)
	assert.Equal(t, 6.5, p.ETL.MinRating)

	assert.True(t, p.Uses(probe.KindRedis))
	assert.True(t, p.Uses(probe.KindPostgres), "load_movies reads postgres")
	assert.True(t, p.Uses(probe.KindElasticsearch))
}

func TestPlanUses(t *testing.T) {
	tests := []struct {
		name string
		plan string
		kind probe.Kind
		want bool
	}{
		{"ledger backend", "ledger:\n  backend: postgres\n", probe.KindPostgres, true},
		{"shared dependency", "dependencies:\n  - name: cache\n    kind: redis\n", probe.KindRedis, true},
		{"dependency with own target", "dependencies:\n  - name: cache\n    kind: redis\n    target: cache-2:6379\n", probe.KindRedis, false},
		{"index loader", "stages:\n  - name: genres\n    action: load_genres\n", probe.KindElasticsearch, true},
		{"index loader skips postgres", "stages:\n  - name: genres\n    action: load_genres\n", probe.KindPostgres, false},
		{"commands only", "stages:\n  - name: warm\n    command: [\"true\"]\n", probe.KindRedis, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePlan([]byte(tt.plan))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Uses(tt.kind))
		})
	}
}

func TestParsePlanDefaults(t *testing.T) {
	p, err := ParsePlan([]byte("stages:\n  - name: noop\n    command: [\"true\"]\n"))
	require.NoError(t, err)

	assert.Equal(t, "once", p.Policy)
	assert.Equal(t, LedgerFile, p.Ledger.Backend)
	assert.Equal(t, defaultLedgerFile, p.Ledger.Path)
	assert.Equal(t, "none", p.Handoff.Mode)
}

func TestParsePlanErrors(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantErr string
	}{
		{name: "empty", plan: "", wantErr: "empty"},
		{name: "unknown field", plan: "polcy: once\n", wantErr: "polcy"},
		{name: "unset variable", plan: "handoff:\n  mode: exec\n  command: [\"${BOOTGATE_TEST_UNSET}\"]\n", wantErr: "BOOTGATE_TEST_UNSET"},
		{name: "bad policy", plan: "policy: sometimes\n", wantErr: "unknown policy"},
		{name: "bad backend", plan: "ledger:\n  backend: etcd\n", wantErr: "unknown ledger backend"},
		{name: "bad kind", plan: "dependencies:\n  - name: q\n    kind: kafka\n", wantErr: "unknown kind"},
		{name: "duplicate dependency", plan: "dependencies:\n  - {name: a, kind: redis}\n  - {name: a, kind: redis}\n", wantErr: "duplicate dependency"},
		{name: "tcp without target", plan: "dependencies:\n  - {name: a, kind: tcp}\n", wantErr: "target is required"},
		{name: "backoff below one", plan: "dependencies:\n  - {name: a, kind: redis, backoff: 0.5}\n", wantErr: "backoff"},
		{name: "negative retries", plan: "dependencies:\n  - {name: a, kind: redis, retries: -1}\n", wantErr: "retries"},
		{name: "max interval below interval", plan: "dependencies:\n  - {name: a, kind: redis, interval: 5s, max_interval: 1s}\n", wantErr: "max_interval"},
		{name: "stage without action", plan: "stages:\n  - name: a\n", wantErr: "exactly one of action or command"},
		{name: "stage with both", plan: "stages:\n  - {name: a, action: load_movies, command: [x]}\n", wantErr: "exactly one of action or command"},
		{name: "duplicate ordinal", plan: "stages:\n  - {name: a, ordinal: 2, command: [x]}\n  - {name: b, ordinal: 2, command: [y]}\n", wantErr: "duplicate ordinal"},
		{name: "exec without command", plan: "handoff:\n  mode: exec\n", wantErr: "handoff.command is required"},
		{name: "serve with command", plan: "handoff:\n  mode: serve\n  command: [x]\n", wantErr: "only valid in exec mode"},
		{name: "bad mode", plan: "handoff:\n  mode: fork\n", wantErr: "unknown handoff mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.plan))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy: always\n"), 0o600))

	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "always", p.Policy)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan file")
}
