package handoff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

func TestExecHandoff(t *testing.T) {
	h, err := NewExec([]string{"movies-api", "--port", "8000"}, map[string]string{"BOOTSTRAPPED": "1"}, logger.NewNop())
	require.NoError(t, err)

	var gotPath string
	var gotArgv, gotEnv []string
	h.lookPath = func(file string) (string, error) { return "/usr/local/bin/" + file, nil }
	h.exec = func(path string, argv, env []string) error {
		gotPath, gotArgv, gotEnv = path, argv, env
		return nil
	}

	require.NoError(t, h.Handoff(context.Background()))
	assert.Equal(t, "/usr/local/bin/movies-api", gotPath)
	assert.Equal(t, []string{"movies-api", "--port", "8000"}, gotArgv)
	assert.Contains(t, gotEnv, "BOOTSTRAPPED=1")
}

func TestExecHandoffFailures(t *testing.T) {
	tests := []struct {
		name     string
		lookPath func(string) (string, error)
		exec     func(string, []string, []string) error
		wantErr  string
	}{
		{
			name:     "binary not found",
			lookPath: func(string) (string, error) { return "", errors.New("executable file not found in $PATH") },
			wantErr:  "resolving movies-api",
		},
		{
			name:     "exec refused",
			lookPath: func(f string) (string, error) { return "/bin/" + f, nil },
			exec:     func(string, []string, []string) error { return errors.New("permission denied") },
			wantErr:  "permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewExec([]string{"movies-api"}, nil, logger.NewNop())
			require.NoError(t, err)
			h.lookPath = tt.lookPath
			if tt.exec != nil {
				h.exec = tt.exec
			}

			err = h.Handoff(context.Background())

			var handoffErr *Error
			require.ErrorAs(t, err, &handoffErr)
			assert.Equal(t, ModeExec, handoffErr.Mode)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExecHandoffCancelled(t *testing.T) {
	h, err := NewExec([]string{"movies-api"}, nil, logger.NewNop())
	require.NoError(t, err)
	h.exec = func(string, []string, []string) error {
		t.Fatal("exec after cancellation")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.Handoff(ctx), context.Canceled)
}

func TestNewExecRejectsEmptyCommand(t *testing.T) {
	_, err := NewExec(nil, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestMergeEnv(t *testing.T) {
	got := MergeEnv(
		[]string{"PATH=/bin", "ES_HOST=old", "HOME=/root"},
		map[string]string{"ES_HOST": "http://es:9200", "APP_ENV": "prod"})

	assert.Equal(t, []string{"PATH=/bin", "HOME=/root", "APP_ENV=prod", "ES_HOST=http://es:9200"}, got)
	assert.Equal(t, []string{"A=1"}, MergeEnv([]string{"A=1"}, nil))
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Run(ctx context.Context) error { return f(ctx) }

func TestServeHandoff(t *testing.T) {
	ok := &Serve{Service: serviceFunc(func(context.Context) error { return nil })}
	assert.NoError(t, ok.Handoff(context.Background()))

	broken := &Serve{Service: serviceFunc(func(context.Context) error { return errors.New("address already in use") })}
	err := broken.Handoff(context.Background())

	var handoffErr *Error
	require.ErrorAs(t, err, &handoffErr)
	assert.Equal(t, ModeServe, handoffErr.Mode)
}
