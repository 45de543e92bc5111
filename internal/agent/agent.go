// Package agent holds the decision makers that compete in the arena: the
// rule-based bots and the LLM-backed models.
package agent

import (
	"context"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

// Kind labels an agent implementation for status APIs.
type Kind string

const (
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
	KindLLM           Kind = "llm"
)

// Input is the view an agent decides on during one tick.
type Input struct {
	At             time.Time
	Markets        []domain.MarketSnapshot
	Positions      domain.Positions
	MaxOrderUSD    float64
	MaxPositionUSD float64
}

// Live returns the snapshots with a freshly observed price, in configured
// order. Fallback prices never reach an agent's signal.
func (in Input) Live() []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, 0, len(in.Markets))
	for _, m := range in.Markets {
		if m.Live() {
			out = append(out, m)
		}
	}
	return out
}

// Prices returns the tick's live prices keyed by symbol.
func (in Input) Prices() domain.Prices {
	live := in.Live()
	out := make(domain.Prices, len(live))
	for _, m := range live {
		out[m.Symbol] = m.Price
	}
	return out
}

// Symbols returns the symbols with a live price, in configured order.
func (in Input) Symbols() []string {
	live := in.Live()
	out := make([]string, len(live))
	for i, m := range live {
		out[i] = m.Symbol
	}
	return out
}

// Agent proposes order intents for a tick. Implementations may keep state
// between calls; the orchestrator calls Decide sequentially.
type Agent interface {
	ID() string
	Kind() Kind
	Decide(ctx context.Context, in Input) ([]domain.OrderIntent, error)
}
