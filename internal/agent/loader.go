package agent

import (
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arena/internal/config"
	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/llm"
)

// defaultMomentumID is the agent id that gets the momentum bot when no
// provider is configured. Every other unconfigured id gets mean reversion.
const defaultMomentumID = "botA"

// Load builds one agent per configured id, in configured order. states may
// be nil when memory is disabled.
func Load(cfg *config.Config, states domain.AgentStateStore, logger *slog.Logger) []Agent {
	logger = logger.With(slog.String("component", "agent_loader"))

	var memory *Memory
	if cfg.Memory.Enabled && states != nil {
		memory = NewMemory(states, cfg.Memory.ContextMaxItems, cfg.Memory.SummaryMaxTokens)
	}

	agents := make([]Agent, 0, len(cfg.Arena.Agents))
	for _, id := range cfg.Arena.Agents {
		a := load(id, cfg, memory, logger)
		logger.Info("agent loaded", slog.String("agent", id), slog.String("kind", string(a.Kind())))
		agents = append(agents, a)
	}
	return agents
}

func load(id string, cfg *config.Config, memory *Memory, logger *slog.Logger) Agent {
	mc := cfg.Model(id)
	provider := strings.ToLower(strings.TrimSpace(mc.Provider))

	switch provider {
	case "":
		if id == defaultMomentumID {
			return NewMomentum(id, logger)
		}
		return NewMeanReversion(id, logger)

	case "openai", "openrouter":
		key := mc.APIKey
		if key == "" {
			key = cfg.LLM.OpenRouterAPIKey
		}
		if mc.Model == "" || key == "" {
			logger.Warn("missing model or api key, falling back to momentum",
				slog.String("agent", id),
				slog.String("provider", provider),
			)
			return NewMomentum(id, logger)
		}

		endpoint := mc.Endpoint
		if endpoint == "" {
			endpoint = llm.DefaultOpenAIEndpoint
			if provider == "openrouter" {
				endpoint = llm.DefaultOpenRouterEndpoint
			}
		}
		p := llm.NewOpenAI(llm.OpenAIConfig{
			Name:        provider,
			APIKey:      key,
			Model:       mc.Model,
			Endpoint:    endpoint,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Referer:     cfg.LLM.OpenRouterReferer,
			Title:       cfg.LLM.OpenRouterTitle,
			Timeout:     cfg.Arena.DecisionTimeout.Duration,
		})
		return NewLLMAgent(id, p, memory, logger)

	case "mock":
		return NewLLMAgent(id, llm.MockProvider{}, memory, logger)

	default:
		logger.Warn("unknown provider, using momentum",
			slog.String("agent", id),
			slog.String("provider", provider),
		)
		return NewMomentum(id, logger)
	}
}
