package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/band4band/internal/server"
	"github.com/alanyoungcy/band4band/internal/server/handler"
	"github.com/alanyoungcy/band4band/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// NodeMode serves the HTTP API and WebSocket event stream on top of the
// background workers.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server disabled; running headless")
		return a.HeadlessMode(ctx, deps)
	}
	a.logger.InfoContext(ctx, "starting node mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)

	hub := ws.NewHub(deps.Bus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.Limiter,
	}, a.handlers(deps), hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// HeadlessMode runs the engine's background workers without an HTTP
// surface, for nodes fronted by another process sharing the store and
// locks.
func (a *App) HeadlessMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting headless mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g, deps)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// startBackground launches the nonce janitor and the audit archiver when
// they are wired.
func (a *App) startBackground(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Nonces != nil {
		interval := a.cfg.Auth.JanitorInterval.Duration
		g.Go(func() error {
			return deps.Nonces.Run(ctx, interval)
		})
	}
	if deps.Archiver != nil && a.cfg.S3.ArchiveInterval.Duration > 0 {
		interval := a.cfg.S3.ArchiveInterval.Duration
		a.logger.InfoContext(ctx, "audit archiver enabled", slog.Duration("interval", interval))
		g.Go(func() error {
			return deps.Archiver.Run(ctx, interval)
		})
	}
}

// handlers builds the route handlers over the wired engine.
func (a *App) handlers(deps *Dependencies) server.Handlers {
	var faucetMax uint64
	if a.cfg.Ledger.FaucetEnabled {
		faucetMax = a.cfg.Ledger.FaucetMax
	}
	return server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:      a.cfg.Mode,
			Storage:   strings.ToLower(a.cfg.Storage.Driver),
			Auth:      strings.ToLower(a.cfg.Auth.Mode),
			Redis:     a.cfg.Redis.Enabled,
			Pinning:   deps.Pinner != nil,
			Faucet:    faucetMax > 0,
			StartedAt: time.Now().UTC(),

			ResolutionStaleness: a.cfg.Engine.ResolutionStaleness,
		}),
		Registry: handler.NewRegistryHandler(deps.Engine, a.logger),
		Feeds:    handler.NewFeedHandler(deps.Engine, deps.Pinner, a.logger),
		Markets:  handler.NewMarketHandler(deps.Engine, a.logger),
		Accounts: handler.NewAccountHandler(deps.Engine, deps.Store, faucetMax, a.logger),
		Audit:    handler.NewAuditHandler(deps.Store, a.logger),
	}
}
