package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

func newRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := New(false)
	require.NoError(t, err)
	return r
}

func TestObserveProbe(t *testing.T) {
	r := newRecorder(t)

	r.ObserveProbe(probe.Result{Dependency: "redis", Outcome: probe.Error, Err: errors.New("refused")})
	r.ObserveProbe(probe.Result{Dependency: "redis", Outcome: probe.NotReady})
	r.ObserveProbe(probe.Result{Dependency: "redis", Outcome: probe.Ready})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.probeAttempts.WithLabelValues("redis", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probeAttempts.WithLabelValues("redis", "not_ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probeAttempts.WithLabelValues("redis", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.depReady.WithLabelValues("redis")))
}

func TestObserveStage(t *testing.T) {
	r := newRecorder(t)

	r.ObserveStage(stage.Result{Name: "load_movies", Status: stage.StatusSuccess, Duration: 1500 * time.Millisecond})
	r.ObserveStage(stage.Result{Name: "load_genres", Status: stage.StatusSkipped})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageRuns.WithLabelValues("load_movies", "success")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues("load_movies")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageRuns.WithLabelValues("load_genres", "skipped")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}

func TestObserveStateIsExclusive(t *testing.T) {
	r := newRecorder(t)

	r.ObserveState(orchestrator.AwaitingDependencies)
	r.ObserveState(orchestrator.RunningStages)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("awaiting_dependencies")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("running_stages")))
	assert.Equal(t, len(orchestrator.States), testutil.CollectAndCount(r.state))
}

func TestObserveCompletion(t *testing.T) {
	r := newRecorder(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r.ObserveCompletion(at)

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestHandler(t *testing.T) {
	r, err := New(true)
	require.NoError(t, err)
	r.ObserveState(orchestrator.Completed)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `bootgate_state{state="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	r := newRecorder(t)
	r.ObserveCompletion(time.Unix(1700000000, 0))

	require.NoError(t, r.Push(context.Background(), gw.URL, "bootgate", "movies-api-0"))
	assert.Equal(t, "/metrics/job/bootgate/instance/movies-api-0", gotPath)
	assert.True(t, strings.Contains(gotBody, "bootgate_last_success_timestamp_seconds"))
}

func TestPushFailure(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	r := newRecorder(t)
	err := r.Push(context.Background(), gw.URL, "bootgate", "")
	assert.ErrorContains(t, err, "pushing metrics")
}
