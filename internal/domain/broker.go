package domain

import (
	"context"
	"time"
)

// PriceSource returns the latest trade price for a symbol.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// Broker is the brokerage account the arena trades through.
type Broker interface {
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
	Clock(ctx context.Context) (MarketClock, error)
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (OrderAck, error)
	FillsSince(ctx context.Context, after time.Time) ([]BrokerFill, error)
}
