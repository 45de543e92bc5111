package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"golang.org/x/sync/errgroup"
)

// MarketGate fetches the latest price for every symbol with bounded
// concurrency. A failed fetch falls back to the last cached price, or 0 when
// nothing is cached, and marks the snapshot stale; it never fails the tick.
type MarketGate struct {
	source      domain.PriceSource
	cache       domain.PriceCache
	concurrency int
	logger      *slog.Logger
}

// NewMarketGate creates a MarketGate. cache may be nil.
func NewMarketGate(source domain.PriceSource, cache domain.PriceCache, concurrency int, logger *slog.Logger) *MarketGate {
	if concurrency < 1 {
		concurrency = 1
	}
	return &MarketGate{
		source:      source,
		cache:       cache,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "market_gate")),
	}
}

// Fetch returns one snapshot per symbol, in input order, stamped at observedAt.
func (g *MarketGate) Fetch(ctx context.Context, symbols []string, observedAt time.Time) []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, len(symbols))

	var eg errgroup.Group
	eg.SetLimit(g.concurrency)
	for i, sym := range symbols {
		eg.Go(func() error {
			px, live := g.price(ctx, sym, observedAt)
			out[i] = domain.MarketSnapshot{
				Symbol:     sym,
				Price:      px,
				ObservedAt: observedAt,
				Stale:      !live,
			}
			return nil
		})
	}
	_ = eg.Wait()

	return out
}

// price returns the symbol's price and whether it was fetched live.
func (g *MarketGate) price(ctx context.Context, symbol string, observedAt time.Time) (float64, bool) {
	px, err := g.source.LatestPrice(ctx, symbol)
	if err == nil && (px <= 0 || math.IsNaN(px) || math.IsInf(px, 0)) {
		err = domain.ErrNoPrice
	}
	if err == nil {
		if g.cache != nil {
			if cerr := g.cache.SetPrice(ctx, symbol, px, observedAt); cerr != nil {
				g.logger.DebugContext(ctx, "market_gate: cache write failed",
					slog.String("symbol", symbol),
					slog.String("error", cerr.Error()),
				)
			}
		}
		return px, true
	}

	fallback := 0.0
	if g.cache != nil {
		if cached, _, cerr := g.cache.GetPrice(ctx, symbol); cerr == nil {
			fallback = cached
		}
	}
	g.logger.WarnContext(ctx, "market_gate: price fetch failed, using fallback",
		slog.String("symbol", symbol),
		slog.Float64("fallback", fallback),
		slog.String("error", err.Error()),
	)
	return fallback, false
}

// PriceMap indexes snapshots by symbol.
func PriceMap(snaps []domain.MarketSnapshot) domain.Prices {
	m := make(domain.Prices, len(snaps))
	for _, s := range snaps {
		m[s.Symbol] = s.Price
	}
	return m
}
