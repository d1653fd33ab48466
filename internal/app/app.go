// Package app wires the configuration into clients, the ledger, the stage
// list and the handoff, and drives the bootstrap run.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bootgate/internal/config"
	"github.com/MrSnakeDoc/bootgate/internal/elastic"
	"github.com/MrSnakeDoc/bootgate/internal/etl"
	"github.com/MrSnakeDoc/bootgate/internal/gate"
	"github.com/MrSnakeDoc/bootgate/internal/handoff"
	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/ledger"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/metrics"
	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/postgres"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
	"github.com/MrSnakeDoc/bootgate/internal/redis"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
	redisstore "github.com/MrSnakeDoc/bootgate/internal/store/redis"
	"github.com/MrSnakeDoc/bootgate/internal/utils"
	"github.com/MrSnakeDoc/bootgate/internal/version"
)

type App struct {
	cfg     *config.Config
	plan    *config.Plan
	logger  logger.Logger
	metrics *metrics.Recorder
	started time.Time

	redisClient *goredis.Client
	es          *elastic.Client
	pg          *pgxpool.Pool

	ledger     ledger.Ledger
	targets    []gate.Target
	components []deps.Component
	stages     []stage.Stage
	handoff    orchestrator.Handoff

	mu        sync.Mutex
	closers   []utils.Closer
	pushOnce  sync.Once
	pushErr   error
	closeErr  error
	closeOnce sync.Once
}

// New builds every component of the plan. Nothing here talks to the network
// except the sqlite ledger, which is local. Errors are configuration errors
// unless the ledger could not be opened.
func New(ctx context.Context, cfg *config.Config, plan *config.Plan, log logger.Logger) (*App, error) {
	rec, err := metrics.New(plan.Handoff.Mode == handoff.ModeServe)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		plan:    plan,
		logger:  log,
		metrics: rec,
		started: time.Now(),
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.openClients(ctx); err != nil {
		return &orchestrator.ConfigError{Err: err}
	}
	if err := a.buildTargets(ctx); err != nil {
		return &orchestrator.ConfigError{Err: err}
	}
	if err := a.buildLedger(ctx); err != nil {
		var unavailable *ledger.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}
		return &orchestrator.ConfigError{Err: err}
	}
	if err := a.buildStages(); err != nil {
		return &orchestrator.ConfigError{Err: err}
	}
	if err := a.buildHandoff(); err != nil {
		return &orchestrator.ConfigError{Err: err}
	}
	return nil
}

// DeploymentID is the ledger key, the plan value winning over the environment.
func (a *App) DeploymentID() string {
	return a.plan.Deployment(a.cfg.DeploymentID)
}

func (a *App) readinessTimeout() time.Duration {
	if a.plan.ReadinessTimeout > 0 {
		return a.plan.ReadinessTimeout
	}
	return a.cfg.ReadinessTimeout
}

// Ledger returns the configured backend.
func (a *App) Ledger() ledger.Ledger { return a.ledger }

// Metrics returns the run's recorder.
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

func (a *App) addCloser(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, utils.Closer{Name: name, Close: fn})
}

// openClients opens the service-wide clients the plan needs. Configured but
// unused connections are left closed.
func (a *App) openClients(ctx context.Context) error {
	if a.cfg.RedisAddr != "" && a.plan.Uses(probe.KindRedis) {
		c, err := a.newRedis(a.cfg.RedisAddr)
		if err != nil {
			return err
		}
		a.redisClient = c
	}
	if len(a.cfg.ESAddresses) > 0 && a.plan.Uses(probe.KindElasticsearch) {
		c, err := a.newElastic(a.cfg.ESAddresses)
		if err != nil {
			return err
		}
		a.es = c
	}
	if a.cfg.PostgresDSN != "" && a.plan.Uses(probe.KindPostgres) {
		p, err := a.newPostgres(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return err
		}
		a.pg = p
	}
	return nil
}

func (a *App) newRedis(addr string) (*goredis.Client, error) {
	c, err := redis.New(redis.Options{
		Addr:         addr,
		User:         a.cfg.RedisUser,
		Password:     a.cfg.RedisPassword,
		DB:           a.cfg.RedisDB,
		DialTimeout:  a.cfg.RedisDT,
		ReadTimeout:  a.cfg.RedisRT,
		WriteTimeout: a.cfg.RedisWT,
		PoolSize:     a.cfg.RedisPoolSize,
	})
	if err != nil {
		return nil, err
	}
	a.addCloser("redis "+addr, c.Close)
	return c, nil
}

func (a *App) newElastic(addrs []string) (*elastic.Client, error) {
	return elastic.New(elastic.Options{
		Addresses: addrs,
		Username:  a.cfg.ESUser,
		Password:  a.cfg.ESPassword,
		Timeout:   a.cfg.ESTimeout,
	})
}

func (a *App) newPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	p, err := postgres.Open(ctx, postgres.Options{
		DSN:            dsn,
		MaxConns:       int32(a.cfg.PostgresMaxConns),
		ConnectTimeout: a.cfg.PostgresConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.addCloser("postgres", func() error { p.Close(); return nil })
	return p, nil
}

// buildTargets pairs each declared dependency with its checker. A Target on
// a redis, elasticsearch or postgres dependency points the check at another
// server than the service-wide one.
func (a *App) buildTargets(ctx context.Context) error {
	for _, spec := range a.plan.Dependencies {
		dep := spec.Dependency()
		checker, err := a.checkerFor(ctx, dep)
		if err != nil {
			return fmt.Errorf("dependency %q: %w", dep.Name, err)
		}
		a.targets = append(a.targets, gate.Target{Dependency: dep, Checker: checker})
		a.components = append(a.components, deps.Component{
			Name:     dep.Name,
			Kind:     dep.Kind,
			Checker:  checker,
			Critical: spec.IsCritical(),
		})
	}
	return nil
}

func (a *App) checkerFor(ctx context.Context, dep probe.Dependency) (probe.Checker, error) {
	switch dep.Kind {
	case probe.KindRedis:
		client := a.redisClient
		if dep.Target != "" {
			c, err := a.newRedis(dep.Target)
			if err != nil {
				return nil, err
			}
			client = c
		}
		if client == nil {
			return nil, errors.New("no target and BOOTGATE_REDIS_ADDR is not set")
		}
		return redis.NewChecker(client), nil

	case probe.KindElasticsearch:
		client := a.es
		if dep.Target != "" {
			c, err := a.newElastic([]string{dep.Target})
			if err != nil {
				return nil, err
			}
			client = c
		}
		if client == nil {
			return nil, errors.New("no target and BOOTGATE_ES_ADDRS is not set")
		}
		return client, nil

	case probe.KindPostgres:
		pool := a.pg
		if dep.Target != "" {
			p, err := a.newPostgres(ctx, dep.Target)
			if err != nil {
				return nil, err
			}
			pool = p
		}
		if pool == nil {
			return nil, errors.New("no target and BOOTGATE_POSTGRES_DSN is not set")
		}
		return postgres.NewChecker(pool), nil

	case probe.KindHTTP:
		return probe.NewHTTPChecker(dep.Target), nil

	case probe.KindTCP:
		return &probe.TCPChecker{Address: dep.Target}, nil

	default:
		return nil, fmt.Errorf("unknown kind %q", dep.Kind)
	}
}

func (a *App) buildLedger(ctx context.Context) error {
	id := a.DeploymentID()
	spec := a.plan.Ledger

	switch spec.Backend {
	case config.LedgerFile:
		l, err := ledger.NewFileLedger(spec.Path)
		if err != nil {
			return err
		}
		a.logger.Debug("file ledger is instance-local, concurrent first boots are not serialized",
			logger.String("path", l.Path()))
		a.ledger = l

	case config.LedgerSQLite:
		l, err := ledger.NewSQLiteLedger(ctx, spec.Path, id)
		if err != nil {
			return err
		}
		a.addCloser("sqlite ledger", l.Close)
		a.ledger = l

	case config.LedgerRedis:
		if a.redisClient == nil {
			return errors.New("redis ledger requires BOOTGATE_REDIS_ADDR")
		}
		a.ledger = redisstore.NewStore(a.redisClient, id).
			WithLock(redisstore.LockOptions{TTL: spec.LockTTL, Poll: spec.LockPoll})

	case config.LedgerPostgres:
		if a.pg == nil {
			return errors.New("postgres ledger requires BOOTGATE_POSTGRES_DSN")
		}
		pool := a.pg
		a.ledger = newDeferredLedger("postgres", func(ctx context.Context) (ledger.Ledger, error) {
			return postgres.NewLedger(ctx, pool, id)
		})

	default:
		return fmt.Errorf("unknown ledger backend %q", spec.Backend)
	}

	a.logger.Debug("ledger configured",
		logger.String("backend", spec.Backend),
		logger.String("deployment", id))
	return nil
}

func (a *App) buildStages() error {
	var source etl.MovieSource
	if a.pg != nil {
		source = postgres.NewMovieSource(a.pg)
	}
	var index etl.Indexer
	if a.es != nil {
		index = a.es
	}
	loader := etl.NewLoader(source, index, a.logger, etl.Options{
		MoviesIndex:  a.plan.ETL.MoviesIndex,
		GenresIndex:  a.plan.ETL.GenresIndex,
		PersonsIndex: a.plan.ETL.PersonsIndex,
		MinRating:    a.plan.ETL.MinRating,
		BatchSize:    a.plan.ETL.BatchSize,
		BulkRate:     a.plan.ETL.BulkRate,
	})

	for _, spec := range a.plan.Stages {
		var (
			action stage.Action
			err    error
		)
		if spec.Action != "" {
			action, err = loader.Action(spec.Action)
		} else {
			action, err = etl.Command{
				Argv:   spec.Command,
				Env:    spec.Env,
				Dir:    spec.Dir,
				Logger: a.logger.With(logger.String("stage", spec.Name)),
			}.Action()
		}
		if err != nil {
			return fmt.Errorf("stage %q: %w", spec.Name, err)
		}
		a.stages = append(a.stages, stage.Stage{
			Ordinal:    spec.Ordinal,
			Name:       spec.Name,
			Action:     action,
			Idempotent: spec.Idempotent,
			Timeout:    spec.Timeout,
		})
	}
	return nil
}

func (a *App) buildHandoff() error {
	switch a.plan.Handoff.Mode {
	case handoff.ModeExec:
		h, err := handoff.NewExec(a.plan.Handoff.Command, a.plan.Handoff.Env, a.logger)
		if err != nil {
			return err
		}
		a.handoff = h
	case handoff.ModeServe:
		a.handoff = &handoff.Serve{Service: serviceFunc(a.Serve)}
	case handoff.ModeNone:
		a.handoff = nil
	default:
		return fmt.Errorf("unknown handoff mode %q", a.plan.Handoff.Mode)
	}
	return nil
}

// OrchestratorPlan is the validated run description.
func (a *App) OrchestratorPlan() orchestrator.Plan {
	policy, _ := orchestrator.ParsePolicy(a.plan.Policy)
	return orchestrator.Plan{
		DeploymentID:     a.DeploymentID(),
		Policy:           policy,
		Dependencies:     a.targets,
		Stages:           a.stages,
		ReadinessTimeout: a.readinessTimeout(),
		Version:          version.Version,
	}
}

func (a *App) gate() *gate.Gate {
	return gate.New(a.logger,
		gate.WithObserver(a.metrics),
		gate.WithWarnThreshold(a.cfg.ProbeWarnThreshold))
}

// Bootstrap runs the full state machine. In exec mode a successful call
// never returns.
func (a *App) Bootstrap(ctx context.Context) orchestrator.Outcome {
	a.logger.Info("starting bootgate",
		logger.String("version", version.String()),
		logger.String("deployment", a.DeploymentID()),
		logger.String("handoff", a.plan.Handoff.Mode))

	orc := orchestrator.New(
		a.gate(),
		a.ledger,
		stage.NewRunner(a.logger, a.metrics),
		a.handoff,
		a.logger,
		orchestrator.WithObserver(a.metrics),
		orchestrator.WithRelease(a.release),
	)
	return orc.Run(ctx, a.OrchestratorPlan())
}

// AwaitDependencies runs only the readiness gate.
func (a *App) AwaitDependencies(ctx context.Context) error {
	if t := a.readinessTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return a.gate().AwaitAll(ctx, a.targets)
}

// release runs right before the handoff. An exec handoff replaces the
// process, so every client is closed and metrics are pushed now; the serve
// handoff keeps its clients until the service stops.
func (a *App) release(ctx context.Context) error {
	err := a.PushMetrics(ctx)
	if a.plan.Handoff.Mode == handoff.ModeExec {
		err = errors.Join(err, a.Close())
	}
	return err
}

// PushMetrics sends the recorder to the Pushgateway once, if configured.
func (a *App) PushMetrics(ctx context.Context) error {
	if a.cfg.PushgatewayURL == "" {
		return nil
	}
	a.pushOnce.Do(func() {
		a.pushErr = a.metrics.Push(ctx, a.cfg.PushgatewayURL, a.cfg.PushJob, a.DeploymentID())
		if a.pushErr != nil {
			a.logger.Warn("metrics push failed", logger.Error(a.pushErr))
		}
	})
	return a.pushErr
}

// Close releases every client once and flushes the logger.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.mu.Unlock()

		a.closeErr = utils.CloseAll(a.logger, closers...)
		_ = a.logger.Sync()
	})
	return a.closeErr
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Run(ctx context.Context) error { return f(ctx) }
