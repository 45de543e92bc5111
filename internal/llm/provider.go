// Package llm adapts chat-completion models into order-intent providers.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/arena/internal/domain"
)

// Request is the market view handed to a model for one decision.
type Request struct {
	Symbols        []string         `json:"symbols"`
	Prices         domain.Prices    `json:"prices"`
	Positions      domain.Positions `json:"positions"`
	MaxOrderUSD    float64          `json:"maxOrderUsd"`
	MaxPositionUSD float64          `json:"maxPositionUsd"`
	Memory         *Memory          `json:"memory,omitempty"`
}

// Memory is the persisted context an agent carries between decisions.
type Memory struct {
	Summary string                `json:"summary,omitempty"`
	Recent  []domain.DecisionNote `json:"recent,omitempty"`
}

// Provider produces order intents from a Request.
type Provider interface {
	Decide(ctx context.Context, req Request) ([]domain.OrderIntent, error)
}

// ProviderError is a failed model call. It carries the HTTP status so the
// agent gate can classify it for backoff.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches domain.ErrRateLimited for HTTP 429 responses.
func (e *ProviderError) Is(target error) bool {
	return target == domain.ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// HTTPStatus returns the response status code, or 0 when unknown.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }
