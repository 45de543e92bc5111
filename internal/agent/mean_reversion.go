package agent

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arena/internal/domain"
)

const (
	meanReversionHistory   = 50
	meanReversionWindow    = 10
	meanReversionThreshold = 0.003
)

// MeanReversion buys when the price is more than 0.3% below its 10-period
// simple moving average and sells when it is more than 0.3% above.
type MeanReversion struct {
	id      string
	history *PriceHistory
	logger  *slog.Logger
}

// NewMeanReversion creates a mean-reversion bot.
func NewMeanReversion(id string, logger *slog.Logger) *MeanReversion {
	return &MeanReversion{
		id:      id,
		history: NewPriceHistory(meanReversionHistory),
		logger:  logger.With(slog.String("agent", id), slog.String("kind", string(KindMeanReversion))),
	}
}

func (mr *MeanReversion) ID() string { return mr.id }
func (mr *MeanReversion) Kind() Kind { return KindMeanReversion }

// Decide implements Agent.
func (mr *MeanReversion) Decide(ctx context.Context, in Input) ([]domain.OrderIntent, error) {
	var intents []domain.OrderIntent
	for _, mkt := range in.Live() {
		pts := mr.history.Track(mkt.Symbol, mkt.Price)
		avg, ok := SMA(pts, meanReversionWindow)
		if !ok || avg == 0 {
			continue
		}

		deviation := (mkt.Price - avg) / avg
		switch {
		case deviation < -meanReversionThreshold:
			intents = append(intents, domain.OrderIntent{Symbol: mkt.Symbol, Side: domain.OrderSideBuy, NotionalUSD: in.MaxOrderUSD})
		case deviation > meanReversionThreshold:
			intents = append(intents, domain.OrderIntent{Symbol: mkt.Symbol, Side: domain.OrderSideSell, NotionalUSD: in.MaxOrderUSD})
		default:
			continue
		}

		mr.logger.DebugContext(ctx, "mean reversion signal",
			slog.String("symbol", mkt.Symbol),
			slog.Float64("price", mkt.Price),
			slog.Float64("sma", avg),
			slog.Float64("deviation", deviation),
		)
	}
	return intents, nil
}
