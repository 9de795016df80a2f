package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agrimandi/dealpool/internal/server"
	"github.com/agrimandi/dealpool/internal/server/handler"
	"github.com/agrimandi/dealpool/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ServeMode runs the HTTP API and the WebSocket hub until the context is
// cancelled. This is the normal operating mode: listing writes arriving over
// HTTP drive the pooling engine.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	hub := ws.NewHub(deps.SignalBus, a.logger)

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Listings:      handler.NewListingHandler(deps.Listings, a.logger),
		Groups:        handler.NewGroupHandler(deps.Groups, a.logger),
		Crops:         handler.NewCropHandler(deps.Crops, a.logger),
		Notifications: handler.NewNotificationHandler(deps.NotificationStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RepairMode recomputes every group's denormalized total from its membership
// rows, reports drift, and exits. Run after incidents or manual data surgery.
func (a *App) RepairMode(ctx context.Context, deps *Dependencies) error {
	drifted, err := deps.Groups.RepairTotals(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "repair complete",
		slog.Int("repaired_groups", len(drifted)),
	)
	return nil
}
