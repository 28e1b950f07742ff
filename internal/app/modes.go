package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bettogether/internal/pipeline"
	"github.com/alanyoungcy/bettogether/internal/server"
	"github.com/alanyoungcy/bettogether/internal/server/handler"
	"github.com/alanyoungcy/bettogether/internal/server/ws"
	"github.com/alanyoungcy/bettogether/internal/service"
)

const shutdownTimeout = 10 * time.Second

// referenceOwner administers the market SimulateMode plays.
var referenceOwner = common.HexToAddress("0x00000000000000000000000000000000000000e0")

// ServerMode serves the HTTP API and relays market events over WebSocket
// until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.String("backend", deps.Backend))

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs ServerMode plus the scheduled sweep that archives settled
// markets.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("backend", deps.Backend))

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	archiver := pipeline.NewArchiver(deps.Markets, a.logger)
	g.Go(func() error {
		if expr := a.cfg.Archive.Cron; expr != "" {
			return archiver.RunCron(ctx, expr)
		}
		return archiver.RunInterval(ctx, a.cfg.Archive.Interval.Duration)
	})

	return ignoreCanceled(g.Wait())
}

// SimulateMode plays the reference market against the in-memory
// collaborators, archives it and returns the run.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) (service.ReferenceRun, error) {
	if deps.Simulator == nil {
		return service.ReferenceRun{}, errors.New("app: simulate mode needs the in-memory backend")
	}
	a.logger.InfoContext(ctx, "starting simulate mode")

	run, err := deps.Simulator.RunReference(ctx, referenceOwner)
	if err != nil {
		return service.ReferenceRun{}, fmt.Errorf("app: reference run: %w", err)
	}
	for _, p := range run.Payouts {
		a.logger.InfoContext(ctx, "simulate: payout",
			slog.String("user", p.User.Hex()),
			slog.String("principal", p.Principal.Dec()),
			slog.String("yield", p.YieldShare.Dec()),
			slog.String("total", p.Total.Dec()),
		)
	}

	n, err := deps.Markets.ArchiveSettled(ctx)
	if err != nil {
		return run, fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "simulate: finished",
		slog.String("market_id", run.Market.ID),
		slog.String("state", run.Market.State.String()),
		slog.String("yield_paid", run.Market.YieldPaid.Dec()),
		slog.Int("archived", n),
		slog.String("archive_path", deps.Markets.ArchivePath(run.Market.ID)),
	)
	return run, nil
}

// startHTTPServer launches the WebSocket hub and the HTTP server on g. The
// server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) *server.Server {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Pattern: service.MarketChannelPattern,
		Channel: service.EventChannel,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(a.logger)
	for name, check := range deps.Checks {
		health.WithCheck(name, check)
	}

	handlers := server.Handlers{
		Health:    health,
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Backend, a.cfg.Asset.Symbol),
		Markets:   handler.NewMarketHandler(deps.Markets, a.logger),
		Positions: handler.NewPositionHandler(deps.Markets, a.logger),
		Archive:   handler.NewArchiveHandler(deps.Markets, a.logger),
	}
	if deps.Simulator != nil {
		handlers.Simulation = handler.NewSimulationHandler(deps.Simulator, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return srv
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
