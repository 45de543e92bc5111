package llm

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/alanyoungcy/arena/internal/domain"
)

type rawIntent struct {
	Symbol      any `json:"symbol"`
	Side        any `json:"side"`
	NotionalUSD any `json:"notionalUsd"`
}

// ParseIntents extracts order intents from model output. It accepts a bare
// JSON array or an object with an "intents" array, optionally wrapped in a
// markdown code fence. Malformed output yields no intents, and elements
// that are not well-formed intents are dropped.
func ParseIntents(content string) []domain.OrderIntent {
	content = stripFence(content)
	if content == "" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		var wrapped struct {
			Intents []json.RawMessage `json:"intents"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil
		}
		items = wrapped.Intents
	}

	out := make([]domain.OrderIntent, 0, len(items))
	for _, item := range items {
		var raw rawIntent
		if err := json.Unmarshal(item, &raw); err != nil {
			continue
		}
		if intent, ok := raw.toIntent(); ok {
			out = append(out, intent)
		}
	}
	return out
}

func (r rawIntent) toIntent() (domain.OrderIntent, bool) {
	symbol, ok := r.Symbol.(string)
	if !ok || strings.TrimSpace(symbol) == "" {
		return domain.OrderIntent{}, false
	}
	sideStr, ok := r.Side.(string)
	if !ok {
		return domain.OrderIntent{}, false
	}
	side, ok := domain.ParseOrderSide(sideStr)
	if !ok {
		return domain.OrderIntent{}, false
	}
	notional, ok := r.NotionalUSD.(float64)
	if !ok || notional <= 0 || math.IsInf(notional, 0) || math.IsNaN(notional) {
		return domain.OrderIntent{}, false
	}
	return domain.OrderIntent{
		Symbol:      strings.ToUpper(strings.TrimSpace(symbol)),
		Side:        side,
		NotionalUSD: notional,
	}, true
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
