package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/phoenixfi/bondtreasury/internal/registry"
	"github.com/phoenixfi/bondtreasury/internal/server"
	"github.com/phoenixfi/bondtreasury/internal/server/handler"
	"github.com/phoenixfi/bondtreasury/internal/server/ws"
)

// FullMode runs everything: the settlement loop, the full HTTP API with the
// WebSocket feed, and the audit archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	reg := a.buildRegistry(deps)
	g.Go(func() error {
		return reg.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, reg, routeSet{workflows: true, views: true})
	}

	return g.Wait()
}

// APIMode serves the read-only views and the owner admin surface without
// accepting workflows. Deposit and redeem intake stays on the replicas that
// run the settlement loop, so this mode needs no token-service credentials.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	reg := a.buildRegistry(deps)
	a.startHTTPServer(ctx, g, deps, reg, routeSet{views: true})

	return g.Wait()
}

// SettleMode runs workflow intake and the settlement loop without the read
// surface: only health and the deposit/redeem entry points are served. The
// archiver runs here too when enabled.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settle mode")

	g, ctx := errgroup.WithContext(ctx)

	reg := a.buildRegistry(deps)
	g.Go(func() error {
		return reg.Run(ctx)
	})

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, reg, routeSet{workflows: true})
	}

	return g.Wait()
}

// routeSet selects which route groups a mode exposes.
type routeSet struct {
	workflows bool
	views     bool
}

// buildRegistry constructs the treasury registry from the wired dependencies.
func (a *App) buildRegistry(deps *Dependencies) *registry.Registry {
	rdeps := registry.Deps{
		Bonds:    deps.BondStore,
		Holders:  deps.HolderStore,
		Audit:    deps.AuditStore,
		Prices:   deps.PriceCache,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Token:    deps.Token,
		Notifier: deps.Notifier,
	}
	if deps.Signer != nil {
		rdeps.Attestor = deps.Signer
	}

	return registry.New(registry.Config{
		OwnerID:     a.cfg.Registry.OwnerID,
		CallTimeout: a.cfg.Registry.CallTimeout.Duration,
		LockTTL:     a.cfg.Registry.LockTTL.Duration,
		QueueSize:   a.cfg.Registry.QueueSize,
	}, rdeps, a.logger)
}

// startHTTPServer adds the HTTP server (and, for view-serving modes, the
// WebSocket hub) to the given errgroup. The server shuts down gracefully when
// the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, reg *registry.Registry, routes routeSet) {
	var hub *ws.Hub
	if routes.views {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Bonds:    handler.NewBondHandler(reg, deps.PriceCache, a.logger),
		Deposits: handler.NewDepositHandler(reg, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Workflows:   routes.workflows,
		Views:       routes.views,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver adds the periodic audit archiver to the errgroup when
// archival is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	g.Go(func() error {
		return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
	})
}
