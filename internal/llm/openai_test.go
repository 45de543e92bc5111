package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1772465400,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIDecide(t *testing.T) {
	var body map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion(`{"intents":[{"symbol":"AAPL","side":"buy","notionalUsd":100}]}`)))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{
		APIKey: "sk-test", Model: "gpt-4o-mini", Endpoint: srv.URL + "/v1/chat/completions",
		Temperature: 0.2, MaxTokens: 400,
	})
	intents, err := p.Decide(context.Background(), Request{
		Symbols: []string{"AAPL"}, Prices: domain.Prices{"AAPL": 190}, Positions: domain.Positions{"AAPL": 0},
		MaxOrderUSD: 250, MaxPositionUSD: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderIntent{{Symbol: "AAPL", Side: domain.OrderSideBuy, NotionalUSD: 100}}, intents)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 400, body["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.True(t, strings.HasPrefix(user, userPrefix))
	assert.Contains(t, user, `"maxOrderUsd":250`)
}

func TestOpenAIMalformedOutputIsNoAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("sorry, I cannot help with that")))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m", Endpoint: srv.URL + "/chat/completions"})
	intents, err := p.Decide(context.Background(), Request{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestOpenAIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit exceeded","type":"rate_limit","code":429}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Name: "openrouter", APIKey: "k", Model: "m", Endpoint: srv.URL + "/chat/completions"})
	_, err := p.Decide(context.Background(), Request{})
	require.Error(t, err)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, domain.StatusOf(err))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Contains(t, err.Error(), "openrouter")
}

func TestHeaderTransport(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{
		base:    http.DefaultTransport,
		headers: map[string]string{"X-Title": "arena", "HTTP-Referer": ""},
	}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "arena", got.Get("X-Title"))
	assert.Empty(t, got.Get("HTTP-Referer"), "empty values are not sent")
}

func TestMockProvider(t *testing.T) {
	req := Request{Symbols: []string{"AAPL", "MSFT"}, Prices: domain.Prices{"AAPL": 190.7}, MaxOrderUSD: 250}
	got, err := MockProvider{}.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderIntent{{Symbol: "AAPL", Side: domain.OrderSideBuy, NotionalUSD: 50}}, got)

	req.Prices["AAPL"] = 191.2
	req.MaxOrderUSD = 20
	got, _ = MockProvider{}.Decide(context.Background(), req)
	assert.Equal(t, []domain.OrderIntent{{Symbol: "AAPL", Side: domain.OrderSideSell, NotionalUSD: 20}}, got)

	got, _ = MockProvider{}.Decide(context.Background(), Request{})
	assert.Empty(t, got)

	got, _ = MockProvider{}.Decide(context.Background(), Request{Symbols: []string{"MSFT"}, MaxOrderUSD: 250})
	assert.Empty(t, got, "no price, no trade")
}
