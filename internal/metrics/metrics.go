// Package metrics exposes the bootstrap run as Prometheus series. The
// recorder can be scraped while the service runs in-process, or pushed to a
// Pushgateway before the process is replaced.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

const namespace = "bootgate"

// Recorder implements the gate, stage and orchestrator observers.
type Recorder struct {
	reg *prometheus.Registry

	probeAttempts *prometheus.CounterVec
	depReady      *prometheus.GaugeVec
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

// New creates a recorder on a private registry. withRuntime adds the Go and
// process collectors, which only make sense for scraping.
func New(withRuntime bool) (*Recorder, error) {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		probeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_attempts_total",
			Help:      "Readiness probe attempts by dependency and outcome.",
		}, []string{"dependency", "outcome"}),
		depReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_ready",
			Help:      "1 once the dependency answered a probe successfully.",
		}, []string{"dependency"}),
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Bootstrap stages by final status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last execution of each stage.",
		}, []string{"stage"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current orchestrator state, 0 for the others.",
		}, []string{"state"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the completion marker was written.",
		}),
	}

	cs := []prometheus.Collector{r.probeAttempts, r.depReady, r.stageRuns, r.stageDuration, r.state, r.lastSuccess}
	if withRuntime {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry for /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveProbe counts one attempt. Safe for concurrent use.
func (r *Recorder) ObserveProbe(res probe.Result) {
	r.probeAttempts.WithLabelValues(res.Dependency, res.Outcome.String()).Inc()
	if res.Ready() {
		r.depReady.WithLabelValues(res.Dependency).Set(1)
	} else {
		r.depReady.WithLabelValues(res.Dependency).Set(0)
	}
}

// ObserveStage records a finished or skipped stage.
func (r *Recorder) ObserveStage(res stage.Result) {
	r.stageRuns.WithLabelValues(res.Name, string(res.Status)).Inc()
	if res.Status != stage.StatusSkipped {
		r.stageDuration.WithLabelValues(res.Name).Set(res.Duration.Seconds())
	}
}

// ObserveState flips the state gauge to s.
func (r *Recorder) ObserveState(s orchestrator.State) {
	for _, st := range orchestrator.States {
		v := 0.0
		if st == s {
			v = 1
		}
		r.state.WithLabelValues(st.String()).Set(v)
	}
}

// ObserveCompletion records the marker timestamp.
func (r *Recorder) ObserveCompletion(at time.Time) {
	r.lastSuccess.Set(float64(at.Unix()))
}

// Push sends the registry to a Pushgateway, replacing the job's group.
func (r *Recorder) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(r.reg)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
