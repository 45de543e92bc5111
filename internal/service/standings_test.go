package service

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandingsPnL(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	_, err := st.Fills().AppendBatch(ctx, []domain.FillRecord{
		{ActivityID: "1", Timestamp: at, AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 2, Price: 100},
		{ActivityID: "2", Timestamp: at.Add(time.Minute), AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 1, Price: 110},
		{ActivityID: "3", Timestamp: at, AgentID: "botB", Symbol: "MSFT", Side: domain.OrderSideBuy, Qty: 1, Price: 400},
	})
	require.NoError(t, err)

	pnl, err := NewStandings(st.Equity(), st.Fills(), 10000).PnL(ctx)
	require.NoError(t, err)
	require.Len(t, pnl, 2)
	assert.Equal(t, "botA", pnl[0].AgentID)
	assert.InDelta(t, 10.0, pnl[0].RealizedUSD, 1e-9)
	assert.InDelta(t, 9910.0, pnl[0].CashUSD, 1e-9)
	assert.Equal(t, 1, pnl[0].OpenSymbols)
	assert.Equal(t, "botB", pnl[1].AgentID)
	assert.Zero(t, pnl[1].RealizedUSD)
}

func TestStandingsLeaderboard(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	require.NoError(t, st.Equity().AppendBatch(ctx, []domain.EquitySnapshot{
		{Timestamp: at, AgentID: "botA", EquityUSD: 10100},
		{Timestamp: at, AgentID: "botB", EquityUSD: 9900},
	}))
	require.NoError(t, st.Equity().AppendBatch(ctx, []domain.EquitySnapshot{
		{Timestamp: at.Add(time.Minute), AgentID: "botB", EquityUSD: 10200},
	}))

	board, err := NewStandings(st.Equity(), st.Fills(), 10000).Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "botB", board[0].AgentID)
	assert.Equal(t, 10200.0, board[0].EquityUSD)
}
