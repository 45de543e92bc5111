package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketGateFallbacks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	cache := memstore.New().Prices()
	require.NoError(t, cache.SetPrice(ctx, "MSFT", 401.5, now.Add(-time.Minute)))

	src := &fakePrices{
		prices: map[string]float64{"AAPL": 190.25},
		fail:   map[string]bool{"MSFT": true, "TSLA": true},
	}
	g := NewMarketGate(src, cache, 8, discardLogger())

	snaps := g.Fetch(ctx, []string{"AAPL", "MSFT", "TSLA"}, now)
	require.Len(t, snaps, 3)
	assert.Equal(t, domain.MarketSnapshot{Symbol: "AAPL", Price: 190.25, ObservedAt: now}, snaps[0])
	assert.Equal(t, 401.5, snaps[1].Price, "cached fallback")
	assert.True(t, snaps[1].Stale, "cached fallback is stale")
	assert.Equal(t, 0.0, snaps[2].Price, "nothing cached")
	assert.True(t, snaps[2].Stale)
	assert.True(t, snaps[0].Live())
	assert.False(t, snaps[1].Live())

	px, _, err := cache.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.25, px, "good prices are cached")
}

func TestMarketGateNonPositivePriceIsFailure(t *testing.T) {
	src := &fakePrices{prices: map[string]float64{"AAPL": 0}}
	g := NewMarketGate(src, nil, 1, discardLogger())
	snaps := g.Fetch(context.Background(), []string{"AAPL"}, time.Now())
	assert.Equal(t, 0.0, snaps[0].Price)
	assert.True(t, snaps[0].Stale)
}

func TestMarketGateBoundsConcurrency(t *testing.T) {
	symbols := make([]string, 20)
	prices := make(map[string]float64, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
		prices[symbols[i]] = float64(i + 1)
	}
	src := &fakePrices{prices: prices, delay: 10 * time.Millisecond}
	g := NewMarketGate(src, nil, 3, discardLogger())

	snaps := g.Fetch(context.Background(), symbols, time.Now())
	for i, s := range snaps {
		assert.Equal(t, symbols[i], s.Symbol, "input order preserved")
		assert.Equal(t, float64(i+1), s.Price)
	}
	assert.LessOrEqual(t, src.peak.Load(), int32(3))
}

func TestPositionReader(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "TSLA"}

	t.Run("signs shorts and ignores untracked", func(t *testing.T) {
		b := &fakeBroker{positions: []domain.BrokerPosition{
			{Symbol: "aapl", Qty: 10, Side: "long"},
			{Symbol: "MSFT", Qty: -3, Side: "short"},
			{Symbol: "NVDA", Qty: 7, Side: "long"},
		}}
		got := NewPositionReader(b, discardLogger()).Read(context.Background(), symbols)
		assert.Equal(t, domain.Positions{"AAPL": 10, "MSFT": -3, "TSLA": 0}, got)
	})

	t.Run("failure reads as flat", func(t *testing.T) {
		b := &fakeBroker{posErr: errors.New("timeout")}
		got := NewPositionReader(b, discardLogger()).Read(context.Background(), symbols)
		assert.Equal(t, domain.Positions{"AAPL": 0, "MSFT": 0, "TSLA": 0}, got)
	})
}
