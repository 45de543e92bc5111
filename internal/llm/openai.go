package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIEndpoint is the OpenAI chat completions URL.
	DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultOpenRouterEndpoint is the OpenRouter chat completions URL.
	DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"

	systemPrompt = `You are a trading agent with strict token and rate limits. ` +
		`Only respond with a compact JSON array of order intents: ` +
		`[{"symbol":"SYM","side":"buy|sell","notionalUsd":N}]. ` +
		`Use minimal tokens, plan fewer trades, and keep risk small through smaller notional sizes and less frequent entries. ` +
		`If no action, return []. Never include explanations.`

	userPrefix = `Return only JSON array, e.g. [{"symbol":"AAPL","side":"buy","notionalUsd":100}] for decisions. Input:`
)

// OpenAIConfig configures an OpenAI-compatible chat completion provider.
type OpenAIConfig struct {
	Name        string // provider label used in errors, e.g. "openai"
	APIKey      string
	Model       string
	Endpoint    string // full chat completions URL
	Temperature float64
	MaxTokens   int
	Referer     string // OpenRouter attribution
	Title       string // OpenRouter attribution
	Timeout     time.Duration
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	name        string
	model       string
	temperature float32
	maxTokens   int
	client      *openai.Client
}

// NewOpenAI creates a provider for cfg. Endpoints on openrouter.ai get the
// OpenRouter attribution headers.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if strings.Contains(endpoint, "openrouter.ai") {
		transport = &headerTransport{
			base: transport,
			headers: map[string]string{
				"HTTP-Referer": cfg.Referer,
				"Referer":      cfg.Referer,
				"X-Title":      cfg.Title,
			},
		}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/chat/completions")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout, Transport: transport}

	return &OpenAIProvider{
		name:        name,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		client:      openai.NewClientWithConfig(clientCfg),
	}
}

// Decide sends the market view to the model and parses its intents.
// Output that cannot be parsed is treated as "no action".
func (p *OpenAIProvider) Decide(ctx context.Context, req Request) ([]domain.OrderIntent, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal input: %w", p.name, err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrefix + string(input)},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return ParseIntents(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: p.name, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return &ProviderError{Provider: p.name, Message: err.Error(), Err: err}
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
