package llm

import (
	"context"
	"math"

	"github.com/alanyoungcy/arena/internal/domain"
)

// MockProvider is a deterministic stand-in for a model. It trades the first
// symbol: buy when the integer part of its price is even, otherwise sell.
type MockProvider struct{}

// Decide implements Provider.
func (MockProvider) Decide(_ context.Context, req Request) ([]domain.OrderIntent, error) {
	if len(req.Symbols) == 0 {
		return nil, nil
	}
	sym := req.Symbols[0]
	px, ok := req.Prices[sym]
	if !ok || px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return nil, nil
	}

	side := domain.OrderSideSell
	if int64(math.Floor(px))%2 == 0 {
		side = domain.OrderSideBuy
	}
	return []domain.OrderIntent{{
		Symbol:      sym,
		Side:        side,
		NotionalUSD: math.Min(50, req.MaxOrderUSD),
	}}, nil
}
