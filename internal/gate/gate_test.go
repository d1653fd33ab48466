package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// countingChecker becomes ready on the readyAt-th attempt (0 = never).
type countingChecker struct {
	readyAt int32
	calls   atomic.Int32
	err     error
}

func (c *countingChecker) Check(context.Context) error {
	n := c.calls.Add(1)
	if c.readyAt > 0 && n >= c.readyAt {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	return probe.NotReadyf("attempt %d", n)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []probe.Result
}

func (o *recordingObserver) ObserveProbe(res probe.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, res)
}

func dep(name string, interval time.Duration, retries int) probe.Dependency {
	return probe.Dependency{Name: name, Kind: probe.KindTCP, Interval: interval, Retries: retries}
}

func TestAwaitAllReadyImmediately(t *testing.T) {
	g := New(logger.NewNop())
	cache := &countingChecker{readyAt: 1}
	index := &countingChecker{readyAt: 1}

	err := g.AwaitAll(context.Background(), []Target{
		{Dependency: dep("cache", 10*time.Millisecond, 3), Checker: cache},
		{Dependency: dep("index", 10*time.Millisecond, 3), Checker: index},
	})

	require.NoError(t, err)
	assert.EqualValues(t, 1, cache.calls.Load())
	assert.EqualValues(t, 1, index.calls.Load())
}

// manualClock advances only when the gate sleeps, so elapsed times are exact.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func TestAwaitAllWaitsForSlowestDependency(t *testing.T) {
	const interval = time.Second
	// cache fails twice before answering, index answers immediately
	run := func() (time.Duration, *countingChecker, *countingChecker, *recordingObserver) {
		clock := newManualClock()
		obs := &recordingObserver{}
		g := New(logger.NewNop(), WithObserver(obs), WithClock(clock.Now, clock.After))
		cache := &countingChecker{readyAt: 3}
		index := &countingChecker{readyAt: 1}

		started := clock.Now()
		err := g.AwaitAll(context.Background(), []Target{
			{Dependency: dep("cache", interval, 5), Checker: cache},
			{Dependency: dep("index", interval, 5), Checker: index},
		})
		require.NoError(t, err)
		return clock.Now().Sub(started), cache, index, obs
	}

	elapsed, cache, index, obs := run()

	assert.GreaterOrEqual(t, elapsed, 2*interval, "gate must wait for the slower dependency")
	assert.Less(t, elapsed, 3*interval, "the fast dependency must not delay the slow one")
	assert.EqualValues(t, 3, cache.calls.Load())
	assert.EqualValues(t, 1, index.calls.Load())
	assert.Len(t, obs.results, 4)

	again, _, _, _ := run()
	assert.Equal(t, elapsed, again, "same outcome under the same clock")
}

func TestAwaitAllWaitsForSlowestDependencyRealTime(t *testing.T) {
	const interval = 20 * time.Millisecond
	g := New(logger.NewNop())
	cache := &countingChecker{readyAt: 3}
	index := &countingChecker{readyAt: 1}

	started := time.Now()
	err := g.AwaitAll(context.Background(), []Target{
		{Dependency: dep("cache", interval, 5), Checker: cache},
		{Dependency: dep("index", interval, 5), Checker: index},
	})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 2*interval)
	assert.EqualValues(t, 3, cache.calls.Load())
}

func TestAwaitAllReportsFirstExhaustedDependency(t *testing.T) {
	g := New(logger.NewNop())
	fast := &countingChecker{}
	slow := &countingChecker{}

	err := g.AwaitAll(context.Background(), []Target{
		{Dependency: dep("cache", 10*time.Millisecond, 2), Checker: fast},
		{Dependency: dep("index", 10*time.Millisecond, 100), Checker: slow},
	})

	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "cache", unreachable.Dependency)
	assert.Equal(t, 2, unreachable.Attempts)
	assert.Equal(t, probe.NotReady, unreachable.Last.Outcome)
}

func TestAwaitAllStopsSiblingsAfterFailure(t *testing.T) {
	g := New(logger.NewNop())
	failing := &countingChecker{err: errors.New("connection refused")}
	sibling := &countingChecker{}

	err := g.AwaitAll(context.Background(), []Target{
		{Dependency: dep("cache", 5*time.Millisecond, 1), Checker: failing},
		{Dependency: dep("index", 5*time.Millisecond, 0), Checker: sibling},
	})
	require.Error(t, err)

	seen := sibling.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seen, sibling.calls.Load(), "no probe may be issued after the gate failed")
}

func TestAwaitAllGlobalDeadline(t *testing.T) {
	g := New(logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := g.AwaitAll(ctx, []Target{
		{Dependency: dep("index", 10*time.Millisecond, 0), Checker: &countingChecker{}},
	})

	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "index", unreachable.Dependency)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitAllTimeBudget(t *testing.T) {
	g := New(logger.NewNop())
	d := dep("cache", 10*time.Millisecond, 0)
	d.Budget = 35 * time.Millisecond

	err := g.AwaitAll(context.Background(), []Target{{Dependency: d, Checker: &countingChecker{}}})

	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Contains(t, unreachable.Error(), "time budget")
}

func TestAwaitAllParentCancelled(t *testing.T) {
	g := New(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := g.AwaitAll(ctx, []Target{
		{Dependency: dep("cache", 5*time.Millisecond, 0), Checker: &countingChecker{}},
	})

	assert.ErrorIs(t, err, context.Canceled)
	var unreachable *UnreachableError
	assert.False(t, errors.As(err, &unreachable))
}

func TestAwaitAllStartDelay(t *testing.T) {
	g := New(logger.NewNop())
	d := dep("cache", 10*time.Millisecond, 1)
	d.StartDelay = 40 * time.Millisecond

	started := time.Now()
	err := g.AwaitAll(context.Background(), []Target{{Dependency: d, Checker: &countingChecker{readyAt: 1}}})

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}

func TestAwaitAllValidation(t *testing.T) {
	g := New(logger.NewNop())
	ok := &countingChecker{readyAt: 1}

	tests := []struct {
		name    string
		targets []Target
	}{
		{
			name: "duplicate names",
			targets: []Target{
				{Dependency: dep("cache", time.Second, 1), Checker: ok},
				{Dependency: dep("cache", time.Second, 1), Checker: ok},
			},
		},
		{
			name:    "zero interval",
			targets: []Target{{Dependency: dep("cache", 0, 1), Checker: ok}},
		},
		{
			name:    "negative retries",
			targets: []Target{{Dependency: dep("cache", time.Second, -1), Checker: ok}},
		},
		{
			name:    "missing checker",
			targets: []Target{{Dependency: dep("cache", time.Second, 1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, g.AwaitAll(context.Background(), tt.targets))
		})
	}
}

func TestNextBackoff(t *testing.T) {
	d := probe.Dependency{Interval: time.Second, Backoff: 2, MaxInterval: 5 * time.Second}

	wait := d.Interval
	var got []time.Duration
	for i := 0; i < 4; i++ {
		wait = next(d, wait)
		got = append(got, wait)
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
	assert.Equal(t, time.Second, next(probe.Dependency{Interval: time.Second}, time.Second))
}
