// Package binance reads spot prices from the Binance REST API. It is used
// as an alternative market data source for crypto symbols.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultTestnetURL is the spot testnet API root.
const DefaultTestnetURL = "https://testnet.binance.vision"

// Client is a minimal Binance spot market data client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Binance client. An empty baseURL uses the testnet.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultTestnetURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type tickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.doGet(ctx, "/api/v3/ping"); err != nil {
		return fmt.Errorf("binance: ping: %w", err)
	}
	return nil
}

// LatestPrice returns the last traded price for symbol, e.g. "BTCUSDT".
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doGet(ctx, "/api/v3/ticker/price?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("binance: ticker %s: %w", symbol, err)
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return 0, fmt.Errorf("binance: decode ticker %s: %w", symbol, err)
	}
	if !tp.Price.IsPositive() {
		return 0, fmt.Errorf("binance: ticker %s: %w", symbol, domain.ErrNoPrice)
	}
	return tp.Price.InexactFloat64(), nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		return nil, fmt.Errorf("HTTP %d: %s (%d)", resp.StatusCode, apiErr.Msg, apiErr.Code)
	}
	return body, nil
}

var _ domain.PriceSource = (*Client)(nil)
