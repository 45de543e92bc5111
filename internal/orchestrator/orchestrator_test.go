package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/agent"
	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/service"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) HTTPStatus() int { return e.status }

type fakeMarket struct {
	mu       sync.Mutex
	prices   map[string]float64
	priceErr map[string]error

	positions []domain.BrokerPosition
	posErr    error
	clock     domain.MarketClock
	clockErr  error

	placed []domain.LimitOrderRequest
	fills  []domain.BrokerFill
}

func (f *fakeMarket) LatestPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.priceErr[symbol]; err != nil {
		return 0, err
	}
	return f.prices[symbol], nil
}

func (f *fakeMarket) Positions(context.Context) ([]domain.BrokerPosition, error) {
	return f.positions, f.posErr
}

func (f *fakeMarket) Clock(context.Context) (domain.MarketClock, error) {
	return f.clock, f.clockErr
}

func (f *fakeMarket) PlaceLimitOrder(_ context.Context, req domain.LimitOrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return domain.OrderAck{ID: "ord-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Status: "accepted"}, nil
}

func (f *fakeMarket) FillsSince(context.Context, time.Time) ([]domain.BrokerFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills, nil
}

func (f *fakeMarket) Placed() []domain.LimitOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LimitOrderRequest(nil), f.placed...)
}

// scripted is an agent whose decisions are supplied by the test.
type scripted struct {
	id     string
	mu     sync.Mutex
	calls  int
	decide func(in agent.Input) ([]domain.OrderIntent, error)
}

func (s *scripted) ID() string       { return s.id }
func (s *scripted) Kind() agent.Kind { return agent.KindMomentum }

func (s *scripted) Decide(_ context.Context, in agent.Input) ([]domain.OrderIntent, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.decide == nil {
		return nil, nil
	}
	return s.decide(in)
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func buyEvery(symbol string, notional float64) func(agent.Input) ([]domain.OrderIntent, error) {
	return func(agent.Input) ([]domain.OrderIntent, error) {
		return []domain.OrderIntent{{Symbol: symbol, Side: domain.OrderSideBuy, NotionalUSD: notional}}, nil
	}
}

type fixture struct {
	orch   *Orchestrator
	store  *memstore.Store
	market *fakeMarket
	clock  time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T, minCall time.Duration, agents ...agent.Agent) *fixture {
	t.Helper()
	logger := discardLogger()
	st := memstore.New()
	mkt := &fakeMarket{
		prices: map[string]float64{"AAPL": 100, "MSFT": 400},
		clock:  domain.MarketClock{IsOpen: true},
	}

	f := &fixture{
		store:  st,
		market: mkt,
		clock:  time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}

	orders := service.NewOrderService(st.Orders(), st.ClientOrders(), mkt, service.OrderConfig{}, logger)
	f.orch = New(Config{
		Symbols:         []string{"AAPL", "MSFT"},
		StartingCash:    10000,
		MaxOrderUSD:     250,
		MaxPositionUSD:  1000,
		Interval:        time.Minute,
		DecisionTimeout: time.Second,
	}, Deps{
		Agents:      agents,
		Market:      service.NewMarketGate(mkt, st.Prices(), 4, logger),
		Positions:   service.NewPositionReader(mkt, logger),
		Clock:       mkt,
		Gate:        service.NewAgentGate(minCall, logger),
		Risk:        service.NewRiskService(service.RiskConfig{MaxPositionUSD: 1000}, logger),
		Orders:      orders,
		Reconciler:  service.NewReconciler(mkt, st.Fills(), st.ClientOrders(), st.Checkpoints(), logger),
		MarketStore: st.Markets(),
		Fills:       st.Fills(),
		Equity:      st.Equity(),
		Audit:       st.Audit(),
	}, logger)
	f.orch.now = func() time.Time { return f.clock }
	return f
}

func TestTickEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := &scripted{id: "botA", decide: buyEvery("AAPL", 250)}
	b := &scripted{id: "botB"}
	f := newFixture(t, 0, a, b)

	report, err := f.orch.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.Prices{"AAPL": 100, "MSFT": 400}, report.Prices)
	assert.True(t, report.MarketOpen)
	require.Len(t, report.Agents, 2)
	assert.Equal(t, "botA", report.Agents[0].AgentID, "configured order")
	require.Len(t, report.Agents[0].Orders, 1)
	assert.Empty(t, report.Agents[1].Orders)

	placed := f.market.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, 2.0, placed[0].Qty)
	assert.Equal(t, 100.0, placed[0].LimitPrice)

	assert.Len(t, f.store.Markets().All(), 2)
	assert.Len(t, f.store.Orders().All(), 1)

	equity := f.store.Equity().All()
	require.Len(t, equity, 2)
	assert.Equal(t, 10000.0, equity[0].EquityUSD)

	// The broker fills the order; the next tick attributes it and marks it.
	f.market.mu.Lock()
	f.market.fills = []domain.BrokerFill{{
		ActivityID: "fill-1", Time: f.clock.Add(time.Second).Format(time.RFC3339),
		Symbol: "AAPL", Side: "buy", Qty: 2, Price: 100, ClientOrderID: placed[0].ClientOrderID,
	}}
	f.market.prices["AAPL"] = 110
	f.market.mu.Unlock()

	f.advance(time.Minute)
	_, err = f.orch.Tick(ctx) // reconciles the fill after equity is computed
	require.NoError(t, err)
	f.advance(time.Minute)
	report, err = f.orch.Tick(ctx)
	require.NoError(t, err)

	// Cash 10000 - 200 + 2 * 110 = 10020 before this tick's own buys fill.
	assert.InDelta(t, 10020.0, report.Agent("botA").Equity, 1e-9)
	assert.InDelta(t, 10000.0, report.Agent("botB").Equity, 1e-9)

	last, ok := f.orch.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.StartedAt, last.StartedAt)
}

func TestBlockedAgentWritesNoOrders(t *testing.T) {
	ctx := context.Background()
	a := &scripted{id: "botA", decide: buyEvery("AAPL", 100)}
	f := newFixture(t, 5*time.Minute, a)

	_, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, f.store.Orders().All(), 1)

	for i := 0; i < 4; i++ {
		f.advance(time.Minute)
		report, err := f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, AgentBlocked, report.Agent("botA").Outcome)
	}
	assert.Equal(t, 1, a.Calls())
	assert.Len(t, f.store.Orders().All(), 1, "no order record for blocked ticks")
	assert.Len(t, f.store.Equity().All(), 5, "equity still recorded every tick")

	f.advance(time.Minute)
	_, err = f.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls(), "cooldown elapsed")
}

func TestRateLimitedAgentBacksOffForAnHour(t *testing.T) {
	ctx := context.Background()
	gpt := &scripted{id: "gpt", decide: func(agent.Input) ([]domain.OrderIntent, error) {
		return nil, &statusErr{429, "too many requests"}
	}}
	bot := &scripted{id: "botA", decide: buyEvery("MSFT", 100)}
	f := newFixture(t, 0, gpt, bot)

	report, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, AgentFailed, report.Agent("gpt").Outcome)
	assert.Equal(t, service.RateLimitBackoff, report.Agent("gpt").Backoff)
	assert.Len(t, report.Agent("botA").Orders, 1, "other agents unaffected")

	for elapsed := 5 * time.Minute; elapsed < time.Hour; elapsed += 5 * time.Minute {
		f.advance(5 * time.Minute)
		_, err := f.orch.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, gpt.Calls(), "no decision %s after the 429", elapsed)
	}

	f.advance(5 * time.Minute)
	_, err = f.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gpt.Calls(), "penalty over after 60 minutes")

	entries, err := f.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	var backoffs int
	for _, e := range entries {
		if e.Event == "agent_backoff" {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)

	gptBackoffs, err := f.store.Audit().List(ctx, domain.ListOpts{Event: domain.AuditAgentBackoff, AgentID: "gpt"})
	require.NoError(t, err)
	assert.Len(t, gptBackoffs, 2)
	archives, err := f.store.Audit().List(ctx, domain.ListOpts{Event: domain.AuditArchivePrefix})
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestUnknownFillsExcludedFromEquity(t *testing.T) {
	ctx := context.Background()
	a := &scripted{id: "botA"}
	f := newFixture(t, 0, a)

	f.market.fills = []domain.BrokerFill{
		{ActivityID: "m1", Time: "2026-03-02T14:00:00Z", Symbol: "AAPL", Side: "buy", Qty: 50, Price: 100},
		{ActivityID: "m2", Time: "2026-03-02T14:01:00Z", Symbol: "MSFT", Side: "buy", Qty: 1, Price: 400, ClientOrderID: "manual-1"},
	}
	_, err := f.orch.Tick(ctx)
	require.NoError(t, err)

	fills, err := f.store.Fills().ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	for _, fl := range fills {
		assert.Equal(t, domain.UnknownAgent, fl.AgentID)
	}

	f.advance(time.Minute)
	report, err := f.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, report.Agent("botA").Equity)
}

func TestTickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	boom := &scripted{id: "boom", decide: func(agent.Input) ([]domain.OrderIntent, error) {
		panic("bad agent")
	}}
	junk := &scripted{id: "junk", decide: func(agent.Input) ([]domain.OrderIntent, error) {
		return []domain.OrderIntent{
			{Symbol: "AAPL", Side: "hold", NotionalUSD: 10},
			{Symbol: "MSFT", Side: domain.OrderSideBuy, NotionalUSD: 5000},
		}, nil
	}}
	ok := &scripted{id: "ok", decide: buyEvery("MSFT", 200)}
	f := newFixture(t, 0, boom, junk, ok)

	f.market.priceErr = map[string]error{"AAPL": errors.New("timeout")}
	f.market.posErr = errors.New("positions down")
	f.market.clockErr = errors.New("clock down")

	report, err := f.orch.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.Prices["AAPL"], "failed price falls back to zero")
	assert.Equal(t, domain.Positions{"AAPL": 0, "MSFT": 0}, report.Positions)
	assert.True(t, report.MarketOpen, "clock failure fails open")

	assert.Equal(t, AgentFailed, report.Agent("boom").Outcome)
	assert.Contains(t, report.Agent("boom").Reason, "panicked")
	assert.Zero(t, report.Agent("boom").Backoff)

	assert.Equal(t, 2, report.Agent("junk").Rejected)
	assert.Empty(t, report.Agent("junk").Orders)

	require.Len(t, report.Agent("ok").Orders, 1)
	assert.Equal(t, domain.OrderStatus("accepted"), report.Agent("ok").Orders[0].Status)
	assert.Len(t, f.store.Equity().All(), 3)
}

func TestTickRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := &scripted{id: "slow", decide: func(agent.Input) ([]domain.OrderIntent, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	f := newFixture(t, 0, slow)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Tick(context.Background())
		done <- err
	}()
	<-entered

	_, err := f.orch.Tick(context.Background())
	assert.ErrorIs(t, err, domain.ErrTickInProgress)
	assert.ErrorIs(t, f.orch.Trigger(), domain.ErrTickInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.orch.Running())
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestTickRespectsSharedLock(t *testing.T) {
	a := &scripted{id: "botA"}
	f := newFixture(t, 0, a)
	f.orch.deps.Lock = heldLock{}

	_, err := f.orch.Tick(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, a.Calls())
	assert.False(t, f.orch.Running(), "guard released")
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

func TestRunSeedsAndTicksImmediately(t *testing.T) {
	a := &scripted{id: "botA"}
	b := &scripted{id: "botB"}
	f := newFixture(t, 0, a, b)
	pub := &recordingPublisher{}
	f.orch.deps.Events = pub

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	equity := f.store.Equity().All()
	require.Len(t, equity, 4, "seed plus first tick")
	assert.Equal(t, 10000.0, equity[0].EquityUSD)
	assert.Equal(t, "botA", equity[0].AgentID)
	assert.Equal(t, "botB", equity[1].AgentID)
	assert.Equal(t, 1, a.Calls())
}
