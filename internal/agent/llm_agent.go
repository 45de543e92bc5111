package agent

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/llm"
)

// LLMAgent delegates decisions to an llm.Provider. Provider errors are
// returned unchanged so the agent gate can classify them.
type LLMAgent struct {
	id       string
	provider llm.Provider
	memory   *Memory
	logger   *slog.Logger
}

// NewLLMAgent creates an LLM-backed agent. memory may be nil.
func NewLLMAgent(id string, provider llm.Provider, memory *Memory, logger *slog.Logger) *LLMAgent {
	return &LLMAgent{
		id:       id,
		provider: provider,
		memory:   memory,
		logger:   logger.With(slog.String("agent", id), slog.String("kind", string(KindLLM))),
	}
}

func (a *LLMAgent) ID() string { return a.id }
func (a *LLMAgent) Kind() Kind { return KindLLM }

// Decide implements Agent.
func (a *LLMAgent) Decide(ctx context.Context, in Input) ([]domain.OrderIntent, error) {
	req := llm.Request{
		Symbols:        in.Symbols(),
		Prices:         in.Prices(),
		Positions:      in.Positions,
		MaxOrderUSD:    in.MaxOrderUSD,
		MaxPositionUSD: in.MaxPositionUSD,
	}

	if a.memory != nil {
		mem, err := a.memory.Load(ctx, a.id)
		if err != nil {
			a.logger.WarnContext(ctx, "memory unavailable", slog.String("error", err.Error()))
		} else {
			req.Memory = mem
		}
	}

	intents, err := a.provider.Decide(ctx, req)
	if err != nil {
		return nil, err
	}

	valid := make([]domain.OrderIntent, 0, len(intents))
	for _, it := range intents {
		if it.Valid() {
			valid = append(valid, it)
		}
	}

	if a.memory != nil {
		if err := a.memory.Remember(ctx, a.id, in.At, valid); err != nil {
			a.logger.WarnContext(ctx, "memory not saved", slog.String("error", err.Error()))
		}
	}
	return valid, nil
}
