package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/orchestrator"
	"github.com/alanyoungcy/arena/internal/service"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"ok"`, string(decode(t, rec)["status"]))

	h = NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, discardLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.JSONEq(t, `"degraded"`, string(body["status"]))
	assert.Contains(t, string(body["dependencies"]), "connection refused")
}

func TestListOrdersNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	base := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := st.Orders().Append(ctx, domain.OrderRecord{
			Timestamp: base.Add(time.Duration(i) * time.Minute), AgentID: "botA",
			Symbol: "AAPL", Side: domain.OrderSideBuy, NotionalUSD: 100, Status: domain.OrderStatusDryRun,
		})
		require.NoError(t, err)
	}

	h := NewOrderHandler(st.Orders(), discardLogger())
	rec := httptest.NewRecorder()
	h.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/api/orders?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Orders []domain.OrderRecord `json:"orders"`
		Limit  int                  `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Limit)
	require.Len(t, body.Orders, 2)
	assert.True(t, body.Orders[0].Timestamp.After(body.Orders[1].Timestamp))
}

func TestQueryLimit(t *testing.T) {
	for q, want := range map[string]int{
		"":            defaultLimit,
		"?limit=abc":  defaultLimit,
		"?limit=-3":   defaultLimit,
		"?limit=10":   10,
		"?limit=9999": maxLimit,
	} {
		assert.Equal(t, want, queryLimit(httptest.NewRequest(http.MethodGet, "/api/orders"+q, nil)), q)
	}
}

func TestStandingsEndpoints(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, st.Equity().AppendBatch(ctx, []domain.EquitySnapshot{
		{Timestamp: at, AgentID: "botA", EquityUSD: 100_500},
		{Timestamp: at, AgentID: "botB", EquityUSD: 99_000},
	}))
	_, err := st.Fills().AppendBatch(ctx, []domain.FillRecord{
		{ActivityID: "a1", Timestamp: at, AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 2, Price: 100},
		{ActivityID: "a2", Timestamp: at.Add(time.Minute), AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 2, Price: 110},
	})
	require.NoError(t, err)

	h := NewStandingsHandler(service.NewStandings(st.Equity(), st.Fills(), 100_000), discardLogger())

	rec := httptest.NewRecorder()
	h.Leaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var board struct {
		Leaderboard []domain.EquitySnapshot `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Leaderboard, 2)
	assert.Equal(t, "botA", board.Leaderboard[0].AgentID)

	rec = httptest.NewRecorder()
	h.PnL(rec, httptest.NewRequest(http.MethodGet, "/api/pnl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var pnl struct {
		PnL []service.AgentPnL `json:"pnl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pnl))
	require.Len(t, pnl.PnL, 1)
	assert.Equal(t, "botA", pnl.PnL[0].AgentID)
	assert.InDelta(t, 20.0, pnl.PnL[0].RealizedUSD, 1e-9)
	assert.Zero(t, pnl.PnL[0].OpenSymbols)
}

type failingStandings struct{}

func (failingStandings) Leaderboard(context.Context) ([]domain.EquitySnapshot, error) {
	return nil, errors.New("db down")
}

func (failingStandings) PnL(context.Context) ([]service.AgentPnL, error) {
	return nil, errors.New("db down")
}

func TestStandingsErrorsAreOpaque(t *testing.T) {
	h := NewStandingsHandler(failingStandings{}, discardLogger())
	rec := httptest.NewRecorder()
	h.Leaderboard(rec, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

type fakeTicks struct {
	running bool
	err     error
	report  *orchestrator.TickReport
	gate    *service.AgentGate
	fired   int
}

func (f *fakeTicks) Running() bool { return f.running }

func (f *fakeTicks) Trigger() error {
	if f.err != nil {
		return f.err
	}
	f.fired++
	return nil
}

func (f *fakeTicks) LastReport() (orchestrator.TickReport, bool) {
	if f.report == nil {
		return orchestrator.TickReport{}, false
	}
	return *f.report, true
}

func (f *fakeTicks) Gate() *service.AgentGate { return f.gate }

func TestGetStatus(t *testing.T) {
	info := StatusInfo{Mode: "full", Symbols: []string{"AAPL"}, Agents: []string{"botA"}, StartedAt: time.Now()}

	t.Run("server only", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewStatusHandler(info, nil, discardLogger()).GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.JSONEq(t, `false`, string(body["orchestrator"]))
		assert.NotContains(t, body, "lastTick")
	})

	t.Run("with orchestrator", func(t *testing.T) {
		gate := service.NewAgentGate(time.Minute, discardLogger())
		gate.RecordSuccess("botA", time.Now())
		ticks := &fakeTicks{
			running: true,
			gate:    gate,
			report:  &orchestrator.TickReport{MarketOpen: true},
		}
		rec := httptest.NewRecorder()
		NewStatusHandler(info, ticks, discardLogger()).GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.JSONEq(t, `true`, string(body["running"]))
		assert.Contains(t, string(body["gates"]), `"agentId":"botA"`)
		assert.Contains(t, string(body["lastTick"]), `"marketOpen":true`)
	})
}

func TestTriggerTick(t *testing.T) {
	info := StatusInfo{Mode: "server"}
	req := func() *http.Request { return httptest.NewRequest(http.MethodPost, "/api/tick", nil) }

	rec := httptest.NewRecorder()
	NewStatusHandler(info, nil, discardLogger()).TriggerTick(rec, req())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ticks := &fakeTicks{}
	rec = httptest.NewRecorder()
	NewStatusHandler(info, ticks, discardLogger()).TriggerTick(rec, req())
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ticks.fired)

	ticks.err = domain.ErrTickInProgress
	rec = httptest.NewRecorder()
	NewStatusHandler(info, ticks, discardLogger()).TriggerTick(rec, req())
	assert.Equal(t, http.StatusConflict, rec.Code)

	ticks.err = errors.New("boom")
	rec = httptest.NewRecorder()
	NewStatusHandler(info, ticks, discardLogger()).TriggerTick(rec, req())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeBlobs struct {
	prefixes []string
	infos    []domain.BlobInfo
	err      error
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefixes = append(f.prefixes, prefix)
	return f.infos, f.err
}

func TestListArchives(t *testing.T) {
	rec := httptest.NewRecorder()
	NewArchiveHandler(nil, discardLogger()).ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	blobs := &fakeBlobs{infos: []domain.BlobInfo{
		{Path: "archive/orders/2026-03-01.jsonl", Size: 10},
		{Path: "archive/orders/2026-03-02.jsonl", Size: 20},
	}}
	rec = httptest.NewRecorder()
	NewArchiveHandler(blobs, discardLogger()).ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?kind=orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"archive/orders/"}, blobs.prefixes)

	var body struct {
		Archives []domain.BlobInfo `json:"archives"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Archives, 2)
	assert.Equal(t, "archive/orders/2026-03-02.jsonl", body.Archives[0].Path)

	blobs.err = errors.New("access denied")
	rec = httptest.NewRecorder()
	NewArchiveHandler(blobs, discardLogger()).ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
