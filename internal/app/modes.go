package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketescrow/internal/server"
	"github.com/alanyoungcy/marketescrow/internal/server/handler"
	"github.com/alanyoungcy/marketescrow/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// APIMode serves the HTTP API and the WebSocket event hub until ctx is
// cancelled.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: entering api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// WorkerMode runs the deadline sweeper on its cron schedule and the payment
// confirmation watcher on its interval until ctx is cancelled.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: entering worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: entering full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startWorkers(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		a.logger.InfoContext(ctx, "app: deadline sweeper started",
			slog.String("schedule", a.cfg.Sweeper.Schedule))
		return deps.Sweeper.Run(ctx)
	})
	g.Go(func() error {
		a.logger.InfoContext(ctx, "app: confirmation watcher started",
			slog.Duration("interval", a.cfg.Watcher.Interval.Duration))
		return deps.Watcher.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.root, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
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
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.root),
		Status:  handler.NewStatusHandler(a.cfg.Mode, deps.RulesView),
		Markets: handler.NewMarketHandler(deps.Markets, a.root),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.root)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats a context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
