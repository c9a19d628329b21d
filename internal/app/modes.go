package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyprop/polyprop/internal/server"
	"github.com/polyprop/polyprop/internal/server/handler"
	"github.com/polyprop/polyprop/internal/server/ws"
)

// ServeMode runs only the HTTP + WebSocket API. Background sweeps are
// expected to run in a separate jobs-mode instance; the job trigger
// endpoints still work for out-of-band runs.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startAlerts(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// JobsMode runs only the background sweeps: risk monitoring, settlement,
// daily boundary, market refresh, and archival.
func (a *App) JobsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting jobs mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startAlerts(ctx, g, deps)
	g.Go(func() error {
		return deps.Orchestrator.Run(ctx)
	})

	return g.Wait()
}

// FullMode runs the API server and the background jobs in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startAlerts(ctx, g, deps)
	if a.cfg.Jobs.Enabled {
		g.Go(func() error {
			return deps.Orchestrator.Run(ctx)
		})
	}
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// startAlerts runs the account event notifier when at least one notification
// channel is configured.
func (a *App) startAlerts(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Alerts == nil || !deps.Notifier.Enabled() {
		return
	}
	g.Go(func() error {
		return deps.Alerts.Run(ctx)
	})
}

// pingerFunc adapts a plain func to the handler.Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// startHTTPServer constructs the API server with all handlers and runs it
// until the context is cancelled, then shuts it down gracefully.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	health := map[string]handler.Pinger{
		"postgres": deps.PGClient,
		"redis":    deps.RedisClient,
	}
	if deps.S3Client != nil {
		health["s3"] = pingerFunc(deps.S3Client.Health)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(health, a.logger),
		Markets: handler.NewMarketHandler(deps.Store.Markets(), a.logger),
		Accounts: handler.NewAccountHandler(
			deps.Store,
			deps.Provisioner,
			deps.Valuer,
			deps.Rules,
			a.cfg.Engine.StartingBalance,
			a.logger,
		),
		Trades: handler.NewTradeHandler(deps.Executor, a.logger),
		Jobs:   handler.NewJobsHandler(deps.Orchestrator, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
