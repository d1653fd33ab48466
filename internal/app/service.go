package app

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/bootgate/internal/httpserver"
	"github.com/MrSnakeDoc/bootgate/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/scheduler"
	"github.com/MrSnakeDoc/bootgate/internal/version"
)

// Deps is what the service surface needs from the run.
func (a *App) Deps() deps.Deps {
	return deps.Deps{
		Logger:       a.logger,
		StartTime:    a.started,
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedCIDRS: a.cfg.AllowedCIDRS,
		TrustProxy:   a.cfg.TrustProxy,
		DeploymentID: a.DeploymentID(),
		Ledger:       a.ledger,
		Components:   a.components,
		CheckTimeout: a.cfg.CheckTimeout,
		Metrics:      a.metrics.Handler(),
	}
}

// Serve runs the in-process service until ctx is cancelled, then stops the
// background refresher and closes every client.
func (a *App) Serve(ctx context.Context) error {
	defer func() { _ = a.Close() }()

	if a.cfg.HealthInterval > 0 && len(a.targets) > 0 {
		refresher := scheduler.NewHealthRefresher(a.targets, a.metrics, a.logger, a.cfg.HealthInterval)
		if err := refresher.Start(ctx); err != nil {
			return err
		}
		defer refresher.Stop()
		a.logger.Info("health refresher started",
			logger.Duration("interval", a.cfg.HealthInterval))
	}

	server := httpserver.New(a.cfg, a.logger, a.Deps())
	if err := server.Run(ctx); err != nil {
		return err
	}
	a.logger.Info("bootgate stopped cleanly")
	return nil
}
