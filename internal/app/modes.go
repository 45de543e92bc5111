package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arena/internal/agent"
	"github.com/alanyoungcy/arena/internal/orchestrator"
	"github.com/alanyoungcy/arena/internal/pipeline"
	"github.com/alanyoungcy/arena/internal/server"
	"github.com/alanyoungcy/arena/internal/server/handler"
	"github.com/alanyoungcy/arena/internal/server/ws"
	"github.com/alanyoungcy/arena/internal/service"
)

// FullMode runs the orchestrator, the read API and the archiver together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	orch := a.newOrchestrator(deps)

	a.startMirror(ctx, g, deps)
	g.Go(func() error { return orch.Run(ctx) })
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps, orch)

	return g.Wait()
}

// OrchestratorMode runs the tick loop without the HTTP API.
func (a *App) OrchestratorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting orchestrator mode")

	g, ctx := errgroup.WithContext(ctx)
	orch := a.newOrchestrator(deps)

	a.startMirror(ctx, g, deps)
	g.Go(func() error { return orch.Run(ctx) })
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the read API over whatever another process writes.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, nil)
	return g.Wait()
}

// OnceMode seeds equity and runs a fixed number of ticks, then exits.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode",
		slog.Int("ticks", a.opts.Ticks),
		slog.Duration("delay", a.opts.Delay),
	)

	mirrorCtx, stopMirror := context.WithCancel(ctx)
	defer stopMirror()
	go func() { _ = deps.Mirror.Run(mirrorCtx) }()

	orch := a.newOrchestrator(deps)
	if err := orch.Seed(ctx); err != nil {
		a.logger.WarnContext(ctx, "seed equity failed", slog.String("error", err.Error()))
	}

	for i := 0; i < a.opts.Ticks; i++ {
		if i > 0 && a.opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.opts.Delay):
			}
		}
		report, err := orch.Tick(ctx)
		if err != nil {
			return fmt.Errorf("once: tick %d: %w", i+1, err)
		}
		a.logger.InfoContext(ctx, "tick done",
			slog.Int("tick", i+1),
			slog.Bool("market_open", report.MarketOpen),
			slog.Int("agents", len(report.Agents)),
		)
	}
	return nil
}

// LeaderboardMode prints the latest equity and realized PnL per agent.
func (a *App) LeaderboardMode(ctx context.Context, deps *Dependencies) error {
	standings := service.NewStandings(deps.Equity, deps.Fills, a.cfg.Arena.StartingCash)

	board, err := standings.Leaderboard(ctx)
	if err != nil {
		return err
	}
	pnl, err := standings.PnL(ctx)
	if err != nil {
		return err
	}
	byAgent := make(map[string]service.AgentPnL, len(pnl))
	for _, p := range pnl {
		byAgent[p.AgentID] = p
	}

	tw := tabwriter.NewWriter(a.opts.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tAGENT\tEQUITY\tREALIZED\tOPEN\tAS OF")
	for i, s := range board {
		p := byAgent[s.AgentID]
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%d\t%s\n",
			i+1, s.AgentID, s.EquityUSD, p.RealizedUSD, p.OpenSymbols, s.Timestamp.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

// PingMode checks that the broker and the price source answer.
func (a *App) PingMode(ctx context.Context, deps *Dependencies) error {
	if deps.Broker == nil {
		return errors.New("ping: broker not configured")
	}
	acct, err := deps.Broker.Account(ctx)
	if err != nil {
		return fmt.Errorf("ping: account: %w", err)
	}
	a.logger.InfoContext(ctx, "broker account",
		slog.String("status", acct.Status),
		slog.Float64("cash", acct.Cash),
		slog.Float64("equity", acct.Equity),
		slog.Float64("buying_power", acct.BuyingPower),
	)

	clock, err := deps.Broker.Clock(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "market clock unavailable", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "market clock",
			slog.Bool("is_open", clock.IsOpen),
			slog.Time("next_open", clock.NextOpen),
			slog.Time("next_close", clock.NextClose),
		)
	}

	symbol := a.cfg.Arena.Symbols[0]
	price, err := deps.Prices.LatestPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("ping: price %s: %w", symbol, err)
	}
	a.logger.InfoContext(ctx, "latest price", slog.String("symbol", symbol), slog.Float64("price", price))
	return nil
}

func (a *App) newOrchestrator(deps *Dependencies) *orchestrator.Orchestrator {
	arena := a.cfg.Arena

	var alerter service.Alerter
	if deps.Notifier.Enabled() {
		alerter = deps.Notifier
	}

	orders := service.NewOrderService(deps.Orders, deps.ClientOrders, deps.Broker, service.OrderConfig{
		DryRun:        arena.DryRun,
		QueueOffHours: arena.QueueOffHours,
	}, a.logger).WithAudit(deps.Audit)
	reconciler := service.NewReconciler(deps.Broker, deps.Fills, deps.ClientOrders, deps.Checkpoints, a.logger)
	if alerter != nil {
		orders.WithAlerter(alerter)
		reconciler.WithAlerter(alerter)
	}

	return orchestrator.New(orchestrator.Config{
		Symbols:         arena.Symbols,
		StartingCash:    arena.StartingCash,
		MaxOrderUSD:     arena.MaxOrderUSD,
		MaxPositionUSD:  arena.MaxPositionUSD,
		Interval:        arena.DecisionInterval.Duration,
		DecisionTimeout: arena.DecisionTimeout.Duration,
		LockTTL:         arena.LockTTL.Duration,
	}, orchestrator.Deps{
		Agents:      agent.Load(a.cfg, deps.AgentStates, a.logger),
		Market:      service.NewMarketGate(deps.Prices, deps.PriceCache, arena.PriceConcurrency, a.logger),
		Positions:   service.NewPositionReader(deps.Broker, a.logger),
		Clock:       deps.Broker,
		Gate:        service.NewAgentGate(arena.MinCallInterval.Duration, a.logger),
		Risk:        service.NewRiskService(service.RiskConfig{MaxPositionUSD: arena.MaxPositionUSD}, a.logger),
		Orders:      orders,
		Reconciler:  reconciler,
		MarketStore: deps.Markets,
		Fills:       deps.Fills,
		Equity:      deps.Equity,
		Audit:       deps.Audit,
		Lock:        deps.LockManager,
		Events:      deps.Mirror,
		Alerter:     alerter,
	}, a.logger)
}

func (a *App) startMirror(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		if err := deps.Mirror.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	expr := a.cfg.Archive.Cron
	if expr == "" {
		expr = pipeline.DefaultArchiveCron
	}
	g.Go(func() error {
		if err := arch.RunCron(ctx, expr); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// startServer runs the HTTP API and websocket hub. orch is nil in server
// mode, which disables the tick trigger.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *orchestrator.Orchestrator) {
	if !a.cfg.Server.Enabled && a.cfg.Mode != "server" {
		return
	}

	info := handler.StatusInfo{
		Mode:      a.cfg.Mode,
		Symbols:   a.cfg.Arena.Symbols,
		Agents:    a.cfg.Arena.Agents,
		DryRun:    a.cfg.Arena.DryRun,
		StartedAt: a.startedAt,
	}
	var ticks handler.TickController
	if orch != nil {
		ticks = orch
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      info.Mode,
		Agents:    info.Agents,
		Symbols:   info.Symbols,
		StartedAt: info.StartedAt,
	}, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Minute,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Standings: handler.NewStandingsHandler(service.NewStandings(deps.Equity, deps.Fills, a.cfg.Arena.StartingCash), a.logger),
		Orders:    handler.NewOrderHandler(deps.Orders, a.logger),
		Status:    handler.NewStatusHandler(info, ticks, a.logger),
		Archives:  handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
