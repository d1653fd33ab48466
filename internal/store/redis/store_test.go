package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

var (
	_ ledger.Ledger       = (*Store)(nil)
	_ ledger.Locker       = (*Store)(nil)
	_ ledger.LeaseChecker = (*Store)(nil)
)

func setup(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestStoreLifecycle(t *testing.T) {
	srv, client := setup(t)
	ctx := context.Background()
	s := NewStore(client, "movies-prod")

	done, err := s.IsComplete(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkComplete(ctx, ledger.Marker{RunID: "run-1", CompletedAt: time.Now(), Stages: []string{"load_movies"}}))
	require.NoError(t, s.MarkComplete(ctx, ledger.Marker{RunID: "run-2"}))

	assert.True(t, srv.Exists("bootgate:ledger:movies-prod"))
	assert.Zero(t, srv.TTL("bootgate:ledger:movies-prod"), "marker must not expire")

	m, found, err := s.Inspect(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, "movies-prod", m.DeploymentID)

	ids, err := s.Deployments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"movies-prod"}, ids)

	require.NoError(t, s.Reset(ctx))
	done, err = s.IsComplete(ctx)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestStoreUnavailable(t *testing.T) {
	srv, client := setup(t)
	s := NewStore(client, "movies-prod")
	srv.Close()

	_, err := s.IsComplete(context.Background())

	var unavailable *ledger.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "redis", unavailable.Backend)
}

func TestLockIsExclusive(t *testing.T) {
	_, client := setup(t)
	s := NewStore(client, "movies-prod").WithLock(LockOptions{TTL: time.Minute, Poll: 5 * time.Millisecond})
	ctx := context.Background()

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for _, owner := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(ctx, owner)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, unlock(ctx))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxHolders.Load())
}

func TestLockWaitRespectsContext(t *testing.T) {
	_, client := setup(t)
	s := NewStore(client, "movies-prod").WithLock(LockOptions{Poll: 5 * time.Millisecond})

	unlock, err := s.Lock(context.Background(), "first")
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "second")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlockAfterExpiry(t *testing.T) {
	srv, client := setup(t)
	s := NewStore(client, "movies-prod").WithLock(LockOptions{TTL: time.Minute})
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "first")
	require.NoError(t, err)

	// the owner stalls past the TTL before its first renewal
	srv.FastForward(2 * time.Minute)
	other, err := s.Lock(ctx, "second")
	require.NoError(t, err)

	assert.ErrorIs(t, unlock(ctx), ErrLockLost)
	assert.Equal(t, "second", mustGet(t, srv, LockKey("movies-prod")))
	require.NoError(t, other(ctx))
	assert.False(t, srv.Exists(LockKey("movies-prod")))
}

func TestLockIsRenewedWhileHeld(t *testing.T) {
	srv, client := setup(t)
	ttl := 300 * time.Millisecond
	s := NewStore(client, "movies-prod").WithLock(LockOptions{TTL: ttl, Poll: 5 * time.Millisecond})
	ctx := context.Background()
	key := LockKey("movies-prod")

	unlock, err := s.Lock(ctx, "first")
	require.NoError(t, err)

	// one second of redis time passes while the stages run, far past the TTL
	for range 5 {
		srv.FastForward(200 * time.Millisecond)
		require.True(t, srv.Exists(key), "lease expired before renewal")
		require.Eventually(t, func() bool { return srv.TTL(key) == ttl }, time.Second, 5*time.Millisecond)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = s.Lock(waitCtx, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "second instance must keep waiting")
	assert.NoError(t, s.CheckLease(ctx, "first"))

	require.NoError(t, unlock(ctx))
	assert.False(t, srv.Exists(key))
	assert.ErrorIs(t, s.CheckLease(ctx, "first"), ErrLockLost)
}

func TestCheckLeaseAfterTakeover(t *testing.T) {
	srv, client := setup(t)
	s := NewStore(client, "movies-prod").WithLock(LockOptions{TTL: time.Minute})
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "first")
	require.NoError(t, err)
	require.NoError(t, srv.Set(LockKey("movies-prod"), "second"))

	assert.ErrorIs(t, s.CheckLease(ctx, "first"), ErrLockLost)
	assert.ErrorIs(t, unlock(ctx), ErrLockLost)
	assert.Equal(t, "second", mustGet(t, srv, LockKey("movies-prod")))
}

func TestExtractDeployment(t *testing.T) {
	id, err := ExtractDeployment("bootgate:ledger:staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", id)

	_, err = ExtractDeployment("bootgate:ledger:")
	assert.Error(t, err)
	_, err = ExtractDeployment("cache:movies:x")
	assert.Error(t, err)
}

func mustGet(t *testing.T, srv *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := srv.Get(key)
	require.NoError(t, err)
	return v
}
