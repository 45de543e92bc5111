package service

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/alanyoungcy/arena/internal/domain"
)

// PositionLister returns the broker's open positions.
type PositionLister interface {
	Positions(ctx context.Context) ([]domain.BrokerPosition, error)
}

// PositionReader normalises broker positions to signed quantities.
type PositionReader struct {
	broker PositionLister
	logger *slog.Logger
}

// NewPositionReader creates a PositionReader.
func NewPositionReader(broker PositionLister, logger *slog.Logger) *PositionReader {
	return &PositionReader{
		broker: broker,
		logger: logger.With(slog.String("component", "position_reader")),
	}
}

// Read returns a signed quantity for every symbol, 0 when flat. Short
// positions are negative. A broker failure yields all zeros.
func (r *PositionReader) Read(ctx context.Context, symbols []string) domain.Positions {
	out := make(domain.Positions, len(symbols))
	for _, s := range symbols {
		out[s] = 0
	}

	raw, err := r.broker.Positions(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "position_reader: fetch failed, treating as flat",
			slog.String("error", err.Error()),
		)
		return out
	}

	for _, p := range raw {
		sym := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if _, tracked := out[sym]; !tracked {
			continue
		}
		if math.IsNaN(p.Qty) || math.IsInf(p.Qty, 0) {
			continue
		}
		qty := math.Abs(p.Qty)
		if strings.EqualFold(p.Side, "short") {
			qty = -qty
		}
		out[sym] = qty
	}
	return out
}
