package agent

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

const (
	momentumHistory = 20
	// momentumAddProbability is the chance an intent that grows an existing
	// position survives the exposure filter.
	momentumAddProbability = 0.2
)

// Momentum buys rising symbols and sells falling ones. The signal is the
// latest price minus the price two observations earlier.
type Momentum struct {
	id      string
	history *PriceHistory
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMomentum creates a momentum bot.
func NewMomentum(id string, logger *slog.Logger) *Momentum {
	return &Momentum{
		id:      id,
		history: NewPriceHistory(momentumHistory),
		logger:  logger.With(slog.String("agent", id), slog.String("kind", string(KindMomentum))),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source used by the exposure filter.
func (m *Momentum) WithRand(rng *rand.Rand) *Momentum {
	m.rng = rng
	return m
}

func (m *Momentum) ID() string { return m.id }
func (m *Momentum) Kind() Kind { return KindMomentum }

// Decide implements Agent.
func (m *Momentum) Decide(_ context.Context, in Input) ([]domain.OrderIntent, error) {
	var intents []domain.OrderIntent
	for _, mkt := range in.Live() {
		pts := m.history.Track(mkt.Symbol, mkt.Price)
		if len(pts) < 3 {
			continue
		}
		signal := pts[len(pts)-1] - pts[len(pts)-3]
		switch {
		case signal > 0:
			intents = append(intents, domain.OrderIntent{Symbol: mkt.Symbol, Side: domain.OrderSideBuy, NotionalUSD: in.MaxOrderUSD})
		case signal < 0:
			intents = append(intents, domain.OrderIntent{Symbol: mkt.Symbol, Side: domain.OrderSideSell, NotionalUSD: in.MaxOrderUSD})
		}
	}
	return m.filter(intents, in.Positions), nil
}

// filter keeps intents on flat symbols and intents that reduce a position.
// Intents that add to a position pass with a small probability.
func (m *Momentum) filter(intents []domain.OrderIntent, positions domain.Positions) []domain.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := intents[:0]
	for _, it := range intents {
		qty := positions[it.Symbol]
		switch {
		case qty == 0:
			out = append(out, it)
		case it.Side == domain.OrderSideBuy && qty < 0:
			out = append(out, it)
		case it.Side == domain.OrderSideSell && qty > 0:
			out = append(out, it)
		case m.rng.Float64() < momentumAddProbability:
			out = append(out, it)
		default:
			m.logger.Debug("momentum intent filtered",
				slog.String("symbol", it.Symbol),
				slog.String("side", string(it.Side)),
				slog.Float64("qty", qty),
			)
		}
	}
	return out
}
