package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

const backend = "redis"

// Store keeps the bootstrap marker of one deployment in Redis. The marker has
// no TTL.
type Store struct {
	client     redis.UniversalClient
	deployment string

	lockTTL  time.Duration
	lockPoll time.Duration
}

// NewStore creates a new Redis ledger store
func NewStore(client redis.UniversalClient, deployment string) *Store {
	return &Store{
		client:     client,
		deployment: deployment,
	}
}

// IsComplete reports whether the marker key exists
func (s *Store) IsComplete(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, LedgerKey(s.deployment)).Result()
	if err != nil {
		return false, ledger.Unavailable(backend, "read", err)
	}
	return n == 1, nil
}

// MarkComplete writes the marker with SET NX, so the first writer wins
func (s *Store) MarkComplete(ctx context.Context, m ledger.Marker) error {
	m.DeploymentID = s.deployment
	data, err := json.Marshal(m)
	if err != nil {
		return ledger.Unavailable(backend, "write", fmt.Errorf("failed to marshal marker: %w", err))
	}

	if err := s.client.SetNX(ctx, LedgerKey(s.deployment), data, 0).Err(); err != nil {
		return ledger.Unavailable(backend, "write", err)
	}
	return nil
}

// Inspect retrieves the marker
func (s *Store) Inspect(ctx context.Context) (ledger.Marker, bool, error) {
	data, err := s.client.Get(ctx, LedgerKey(s.deployment)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ledger.Marker{}, false, nil
		}
		return ledger.Marker{}, false, ledger.Unavailable(backend, "read", err)
	}

	var m ledger.Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return ledger.Marker{}, true, ledger.Unavailable(backend, "read", fmt.Errorf("failed to unmarshal marker: %w", err))
	}
	return m, true, nil
}

// Reset removes the marker
func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, LedgerKey(s.deployment)).Err(); err != nil {
		return ledger.Unavailable(backend, "reset", err)
	}
	return nil
}

// Deployments lists every deployment with a marker in this Redis database
func (s *Store) Deployments(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, KeyPrefixLedger+"*", 0).Iterator()
	for iter.Next(ctx) {
		id, err := ExtractDeployment(iter.Val())
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	if err := iter.Err(); err != nil {
		return nil, ledger.Unavailable(backend, "scan", err)
	}
	return out, nil
}
