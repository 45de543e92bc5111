// Package orchestrator drives the arena tick: prices, positions, agent
// decisions, risk, orders, equity and fill reconciliation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arena/internal/agent"
	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/ledger"
	"github.com/alanyoungcy/arena/internal/service"
)

const (
	// MinInterval is the floor applied to the configured tick interval.
	MinInterval = 5 * time.Second
	// TickLockKey names the cross-process lock held for the duration of a tick.
	TickLockKey = "arena:tick"
	// TickChannel is the event channel a finished TickReport is published on.
	TickChannel = "arena:tick"
)

// Config holds the tick parameters.
type Config struct {
	Symbols         []string
	StartingCash    float64
	MaxOrderUSD     float64
	MaxPositionUSD  float64
	Interval        time.Duration
	DecisionTimeout time.Duration
	LockTTL         time.Duration
}

// ClockReader reports whether the market is open.
type ClockReader interface {
	Clock(ctx context.Context) (domain.MarketClock, error)
}

// Publisher delivers tick events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Deps are the collaborators of an Orchestrator. Audit, Lock, Events and
// Alerter are optional.
type Deps struct {
	Agents      []agent.Agent
	Market      *service.MarketGate
	Positions   *service.PositionReader
	Clock       ClockReader
	Gate        *service.AgentGate
	Risk        *service.RiskService
	Orders      *service.OrderService
	Reconciler  *service.Reconciler
	MarketStore domain.MarketSnapshotStore
	Fills       domain.FillStore
	Equity      domain.EquityStore
	Audit       domain.AuditStore
	Lock        domain.LockManager
	Events      Publisher
	Alerter     service.Alerter
}

// Orchestrator runs ticks. At most one tick runs at a time per process; with
// a LockManager configured, at most one across processes.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	running atomic.Bool
	trigger chan struct{}
	wg      sync.WaitGroup

	mu        sync.RWMutex
	last      *TickReport
	lastFills []domain.FillRecord
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With(slog.String("component", "orchestrator")),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// Agents returns the configured agents in decision order.
func (o *Orchestrator) Agents() []agent.Agent { return o.deps.Agents }

// Gate returns the agent admission gate.
func (o *Orchestrator) Gate() *service.AgentGate { return o.deps.Gate }

// LastReport returns the most recent completed tick.
func (o *Orchestrator) LastReport() (TickReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return TickReport{}, false
	}
	return *o.last, true
}

// Running reports whether a tick is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Trigger asks Run to start a tick now. It returns domain.ErrTickInProgress
// when a tick is already running or already requested.
func (o *Orchestrator) Trigger() error {
	if o.running.Load() {
		return domain.ErrTickInProgress
	}
	select {
	case o.trigger <- struct{}{}:
		return nil
	default:
		return domain.ErrTickInProgress
	}
}

// Run seeds one equity snapshot per agent at starting cash, ticks
// immediately, then ticks on the configured interval until ctx is done.
// Ticks that would overlap a running tick are dropped. Run waits for an
// in-flight tick before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.cfg.Interval
	if interval < MinInterval {
		interval = MinInterval
	}
	o.logger.Info("orchestrator starting",
		slog.Duration("interval", interval),
		slog.Int("agents", len(o.deps.Agents)),
		slog.Any("symbols", o.cfg.Symbols),
	)

	if err := o.Seed(ctx); err != nil {
		o.logger.Warn("seed equity failed", slog.String("error", err.Error()))
	}

	o.launch(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.logger.Info("orchestrator stopped")
			return nil
		case <-ticker.C:
			o.launch(ctx)
		case <-o.trigger:
			o.launch(ctx)
		}
	}
}

// Seed writes one equity snapshot per agent at starting cash.
func (o *Orchestrator) Seed(ctx context.Context) error {
	at := o.now().UTC()
	snaps := make([]domain.EquitySnapshot, 0, len(o.deps.Agents))
	for _, a := range o.deps.Agents {
		snaps = append(snaps, domain.EquitySnapshot{Timestamp: at, AgentID: a.ID(), EquityUSD: o.cfg.StartingCash})
	}
	if err := o.deps.Equity.AppendBatch(ctx, snaps); err != nil {
		return fmt.Errorf("orchestrator: seed equity: %w", err)
	}
	return nil
}

// launch starts a tick in the background. The tick is detached from ctx so
// shutdown never interrupts one halfway.
func (o *Orchestrator) launch(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, err := o.Tick(context.WithoutCancel(ctx))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrTickInProgress), errors.Is(err, domain.ErrLockHeld):
			o.logger.Warn("tick skipped", slog.String("reason", err.Error()))
		default:
			o.logger.Error("tick failed", slog.String("error", err.Error()))
		}
	}()
}

// Tick runs one full cycle. It returns domain.ErrTickInProgress if another
// tick is running in this process and domain.ErrLockHeld if one holds the
// shared lock. Failures inside the tick are isolated and reported, never
// returned.
func (o *Orchestrator) Tick(ctx context.Context) (TickReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return TickReport{}, domain.ErrTickInProgress
	}
	defer o.running.Store(false)

	if o.deps.Lock != nil {
		ttl := o.cfg.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		unlock, err := o.deps.Lock.Acquire(ctx, TickLockKey, ttl)
		if err != nil {
			return TickReport{}, fmt.Errorf("orchestrator: acquire tick lock: %w", err)
		}
		defer unlock()
	}

	report := o.tick(ctx)

	o.mu.Lock()
	o.last = &report
	o.mu.Unlock()

	o.publish(ctx, report)
	return report, nil
}

func (o *Orchestrator) tick(ctx context.Context) TickReport {
	now := o.now().UTC()
	report := TickReport{StartedAt: now}

	// 1. Prices.
	snaps := o.deps.Market.Fetch(ctx, o.cfg.Symbols, now)
	if err := o.deps.MarketStore.AppendBatch(ctx, snaps); err != nil {
		o.logger.WarnContext(ctx, "persist market snapshots failed", slog.String("error", err.Error()))
	}
	prices := service.PriceMap(snaps)
	report.Prices = prices

	// 2. Positions.
	positions := o.deps.Positions.Read(ctx, o.cfg.Symbols)
	report.Positions = positions

	// 3. Clock.
	report.MarketOpen = o.marketOpen(ctx)

	// 4-7. Agents, strictly in configured order.
	in := agent.Input{
		At:             now,
		Markets:        snaps,
		Positions:      positions,
		MaxOrderUSD:    o.cfg.MaxOrderUSD,
		MaxPositionUSD: o.cfg.MaxPositionUSD,
	}
	for _, a := range o.deps.Agents {
		report.Agents = append(report.Agents, o.runAgent(ctx, a, in, prices, report.MarketOpen))
	}

	// 8. Equity.
	o.recordEquity(ctx, now, prices, &report)

	// 9. Fills.
	res, err := o.deps.Reconciler.Sync(ctx)
	if err != nil {
		report.ReconcileError = err.Error()
		o.logger.WarnContext(ctx, "reconcile failed", slog.String("error", err.Error()))
	} else {
		report.Reconcile = &res
	}

	report.FinishedAt = o.now().UTC()
	o.logger.InfoContext(ctx, "tick complete",
		slog.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		slog.Bool("market_open", report.MarketOpen),
		slog.Int("orders", countOrders(report.Agents)),
	)
	return report
}

// marketOpen fails open: a clock error is treated as an open market so the
// off-hours order shape is never applied by accident.
func (o *Orchestrator) marketOpen(ctx context.Context) bool {
	clock, err := o.deps.Clock.Clock(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "clock unavailable, assuming market open", slog.String("error", err.Error()))
		return true
	}
	return clock.IsOpen
}

func (o *Orchestrator) runAgent(ctx context.Context, a agent.Agent, in agent.Input, prices domain.Prices, open bool) AgentReport {
	id := a.ID()
	rep := AgentReport{AgentID: id}
	logger := o.logger.With(slog.String("agent", id))

	if err := o.deps.Gate.Admit(id, in.At); err != nil {
		rep.Outcome = AgentBlocked
		rep.Reason = err.Error()
		logger.DebugContext(ctx, "agent skipped", slog.String("reason", rep.Reason))
		return rep
	}

	intents, err := o.decide(ctx, a, in)
	if err != nil {
		rep.Outcome = AgentFailed
		rep.Reason = err.Error()
		rep.Backoff = o.deps.Gate.RecordFailure(id, err, in.At)
		logger.WarnContext(ctx, "agent decision failed",
			slog.String("error", err.Error()),
			slog.Duration("backoff", rep.Backoff),
		)
		if rep.Backoff > 0 {
			o.onBackoff(ctx, id, rep.Backoff, err)
		}
		return rep
	}
	o.deps.Gate.RecordSuccess(id, in.At)

	rep.Outcome = AgentDecided
	rep.Intents = len(intents)
	for _, intent := range intents {
		if verr := intent.Validate(); verr != nil {
			rep.Rejected++
			logger.WarnContext(ctx, "malformed intent dropped",
				slog.Any("intent", intent),
				slog.String("error", verr.Error()),
			)
			continue
		}

		price := prices[intent.Symbol]
		if _, err := o.deps.Risk.PreTradeCheck(ctx, id, intent, in.Positions[intent.Symbol], price); err != nil {
			rep.Rejected++
			continue
		}

		rec := o.deps.Orders.Execute(ctx, service.ExecuteRequest{
			TickAt:     in.At,
			AgentID:    id,
			Intent:     intent,
			Price:      price,
			MarketOpen: open,
		})
		rep.Orders = append(rep.Orders, rec)
	}
	return rep
}

// decide calls the agent under the decision timeout. A panicking agent is
// reported as a failed decision.
func (o *Orchestrator) decide(ctx context.Context, a agent.Agent, in agent.Input) (intents []domain.OrderIntent, err error) {
	if o.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.DecisionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			intents, err = nil, fmt.Errorf("agent %s panicked: %v", a.ID(), r)
		}
	}()
	return a.Decide(ctx, in)
}

func (o *Orchestrator) onBackoff(ctx context.Context, agentID string, d time.Duration, cause error) {
	if o.deps.Audit != nil {
		if err := o.deps.Audit.Log(ctx, domain.AuditAgentBackoff, map[string]any{
			"agent":   agentID,
			"backoff": d.String(),
			"error":   cause.Error(),
		}); err != nil {
			o.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if o.deps.Alerter != nil {
		service.NotifyAsync(ctx, o.deps.Alerter, o.logger, "backoff",
			"Agent backing off",
			fmt.Sprintf("%s paused for %s: %v", agentID, d, cause))
	}
}

// recordEquity replays the fill history and stores one snapshot per agent.
// If the history cannot be read, the last successfully read history is used.
func (o *Orchestrator) recordEquity(ctx context.Context, at time.Time, prices domain.Prices, report *TickReport) {
	fills, err := o.deps.Fills.ListOrdered(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "load fills failed, using previous history", slog.String("error", err.Error()))
		o.mu.RLock()
		fills = o.lastFills
		o.mu.RUnlock()
	} else {
		o.mu.Lock()
		o.lastFills = fills
		o.mu.Unlock()
	}

	l := ledger.Replay(fills, o.cfg.StartingCash)
	snaps := make([]domain.EquitySnapshot, 0, len(o.deps.Agents))
	for i, a := range o.deps.Agents {
		eq := l.Equity(a.ID(), prices)
		snaps = append(snaps, domain.EquitySnapshot{Timestamp: at, AgentID: a.ID(), EquityUSD: eq})
		report.Agents[i].Equity = eq
	}
	if err := o.deps.Equity.AppendBatch(ctx, snaps); err != nil {
		o.logger.ErrorContext(ctx, "persist equity failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) publish(ctx context.Context, report TickReport) {
	if o.deps.Events == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		o.logger.WarnContext(ctx, "marshal tick report failed", slog.String("error", err.Error()))
		return
	}
	if err := o.deps.Events.Publish(ctx, TickChannel, payload); err != nil {
		o.logger.WarnContext(ctx, "publish tick report failed", slog.String("error", err.Error()))
	}
}

func countOrders(reports []AgentReport) int {
	n := 0
	for _, r := range reports {
		n += len(r.Orders)
	}
	return n
}
