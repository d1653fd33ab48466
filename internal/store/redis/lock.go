package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
)

const (
	// DefaultLockTTL bounds how long a crashed owner can block other instances
	DefaultLockTTL = 10 * time.Minute
	// DefaultLockPoll is the wait between acquisition attempts
	DefaultLockPoll = 500 * time.Millisecond
)

// ErrLockLost is returned by unlock when the key expired or changed owner.
var ErrLockLost = errors.New("bootstrap lock lost before release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LockOptions tunes the bootstrap lock.
type LockOptions struct {
	TTL  time.Duration
	Poll time.Duration
}

// WithLock sets lock timing, zero values keep the defaults.
func (s *Store) WithLock(opts LockOptions) *Store {
	cp := *s
	cp.lockTTL = opts.TTL
	cp.lockPoll = opts.Poll
	return &cp
}

// Lock blocks until owner holds the deployment's bootstrap lock or ctx ends.
// The lease is renewed every TTL/3 until the returned function is called,
// which releases it only if owner still holds it.
func (s *Store) Lock(ctx context.Context, owner string) (func(context.Context) error, error) {
	ttl, poll := s.lockTTL, s.lockPoll
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if poll <= 0 {
		poll = DefaultLockPoll
	}

	key := LockKey(s.deployment)
	for {
		ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ledger.Unavailable(backend, "lock", err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for bootstrap lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	stop, done := make(chan struct{}), make(chan struct{})
	go s.renew(key, owner, ttl, stop, done)

	var once sync.Once
	unlock := func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		n, err := releaseScript.Run(ctx, s.client, []string{key}, owner).Int()
		if err != nil {
			return ledger.Unavailable(backend, "unlock", err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}
	return unlock, nil
}

// CheckLease reports ErrLockLost when owner no longer holds the lock.
func (s *Store) CheckLease(ctx context.Context, owner string) error {
	holder, err := s.client.Get(ctx, LockKey(s.deployment)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrLockLost
	}
	if err != nil {
		return ledger.Unavailable(backend, "lock", err)
	}
	if holder != owner {
		return ErrLockLost
	}
	return nil
}

// renew extends the lease until stop is closed or the lease is gone.
// Transient errors are retried on the next tick.
func (s *Store) renew(key, owner string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := max(ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := renewScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}
