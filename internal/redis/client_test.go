package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

func newClient(t *testing.T, addr string) *Checker {
	t.Helper()
	client, err := New(Options{Addr: addr, DialTimeout: 200 * time.Millisecond, ReadTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewChecker(client)
}

func TestCheckerReady(t *testing.T) {
	srv := miniredis.RunT(t)
	c := newClient(t, srv.Addr())

	assert.NoError(t, c.Check(context.Background()))
}

func TestCheckerLoadingIsNotReady(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.SetError("LOADING Redis is loading the dataset in memory")
	c := newClient(t, srv.Addr())

	err := c.Check(context.Background())

	require.Error(t, err)
	assert.Equal(t, probe.NotReady, probe.Classify(err))
}

func TestCheckerOtherReplyErrorIsError(t *testing.T) {
	srv := miniredis.RunT(t)
	srv.SetError("NOAUTH Authentication required")
	c := newClient(t, srv.Addr())

	err := c.Check(context.Background())

	require.Error(t, err)
	assert.Equal(t, probe.Error, probe.Classify(err))
}

func TestCheckerUnreachableIsError(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	c := newClient(t, addr)

	err := c.Check(context.Background())

	require.Error(t, err)
	assert.Equal(t, probe.Error, probe.Classify(err))
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "valid", opts: Options{Addr: "localhost:6379", PoolSize: 10}},
		{name: "missing addr", opts: Options{}, wantErr: true},
		{name: "negative timeout", opts: Options{Addr: "x:1", DialTimeout: -time.Second}, wantErr: true},
		{name: "negative pool", opts: Options{Addr: "x:1", PoolSize: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
