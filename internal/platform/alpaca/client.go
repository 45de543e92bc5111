package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

const (
	// DefaultTradingURL is the paper-trading API root.
	DefaultTradingURL = "https://paper-api.alpaca.markets"
	// DefaultDataURL is the market data API root.
	DefaultDataURL = "https://data.alpaca.markets"

	activityPageSize = 100
)

// Config holds the credentials and endpoints for a Client.
type Config struct {
	KeyID      string
	SecretKey  string
	TradingURL string
	DataURL    string
	Timeout    time.Duration
}

// APIError is a non-2xx response from Alpaca.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("alpaca: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("alpaca: HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Client is the REST client for the Alpaca trading and market data APIs.
// It implements domain.Broker and domain.PriceSource.
type Client struct {
	keyID      string
	secretKey  string
	tradingURL string
	dataURL    string
	httpClient *http.Client
}

// NewClient creates a new Alpaca client. Empty URLs fall back to the paper
// trading and market data defaults.
func NewClient(cfg Config) *Client {
	if cfg.TradingURL == "" {
		cfg.TradingURL = DefaultTradingURL
	}
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		tradingURL: strings.TrimRight(cfg.TradingURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Account returns the brokerage account summary.
func (c *Client) Account(ctx context.Context) (domain.Account, error) {
	var acct APIAccount
	if err := c.getJSON(ctx, c.tradingURL, "/v2/account", &acct); err != nil {
		return domain.Account{}, fmt.Errorf("alpaca: get account: %w", err)
	}
	return acct.ToDomain(), nil
}

// LatestPrice returns the price of the most recent trade for symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/trades/latest"

	var trade APILatestTrade
	if err := c.getJSON(ctx, c.dataURL, path, &trade); err != nil {
		return 0, fmt.Errorf("alpaca: latest trade %s: %w", symbol, err)
	}
	if trade.Trade.Price == nil || math.IsNaN(*trade.Trade.Price) || math.IsInf(*trade.Trade.Price, 0) {
		return 0, fmt.Errorf("alpaca: latest trade %s: %w", symbol, domain.ErrNoPrice)
	}
	return *trade.Trade.Price, nil
}

// Positions returns all open positions. Quantities are unsigned; Side says
// whether the position is long or short.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var apiPositions []APIPosition
	if err := c.getJSON(ctx, c.tradingURL, "/v2/positions", &apiPositions); err != nil {
		return nil, fmt.Errorf("alpaca: list positions: %w", err)
	}

	out := make([]domain.BrokerPosition, 0, len(apiPositions))
	for _, p := range apiPositions {
		out = append(out, domain.BrokerPosition{
			Symbol: p.Symbol,
			Qty:    p.Qty.Abs().InexactFloat64(),
			Side:   p.Side,
		})
	}
	return out, nil
}

// Clock returns the market clock.
func (c *Client) Clock(ctx context.Context) (domain.MarketClock, error) {
	var clock APIClock
	if err := c.getJSON(ctx, c.tradingURL, "/v2/clock", &clock); err != nil {
		return domain.MarketClock{}, fmt.Errorf("alpaca: get clock: %w", err)
	}
	return domain.MarketClock{
		IsOpen:    clock.IsOpen,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// PlaceLimitOrder submits a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, req domain.LimitOrderRequest) (domain.OrderAck, error) {
	body := APIOrderRequest{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "limit",
		TimeInForce:   "gtc",
		LimitPrice:    strconv.FormatFloat(req.LimitPrice, 'f', 2, 64),
		Qty:           strconv.FormatFloat(req.Qty, 'f', 3, 64),
		ClientOrderID: req.ClientOrderID,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, c.tradingURL, "/v2/orders", body)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("alpaca: place order %s: %w", req.ClientOrderID, err)
	}

	var order APIOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return domain.OrderAck{}, fmt.Errorf("alpaca: decode order: %w", err)
	}
	return domain.OrderAck{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        order.Status,
		SubmittedAt:   order.SubmittedAt,
	}, nil
}

// FillsSince returns every fill activity after the given time, oldest
// first. Fills without a client order id are resolved through their order
// when possible so they can still be attributed.
func (c *Client) FillsSince(ctx context.Context, after time.Time) ([]domain.BrokerFill, error) {
	var fills []domain.BrokerFill
	pageToken := ""

	for {
		params := url.Values{}
		params.Set("activity_types", "FILL")
		// Checkpoints carry sub-second fill times; RFC3339 would truncate
		// them and replay fills from the same second.
		params.Set("after", after.UTC().Format(time.RFC3339Nano))
		params.Set("direction", "asc")
		params.Set("page_size", strconv.Itoa(activityPageSize))
		if pageToken != "" {
			params.Set("page_token", pageToken)
		}

		var page []APIActivity
		if err := c.getJSON(ctx, c.tradingURL, "/v2/account/activities?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("alpaca: list fills: %w", err)
		}

		for _, a := range page {
			if a.IsFill() {
				fills = append(fills, a.ToDomainFill())
			}
		}

		if len(page) < activityPageSize {
			break
		}
		last := page[len(page)-1]
		pageToken = last.ID
		if pageToken == "" {
			pageToken = last.ActivityID
		}
		if pageToken == "" {
			break
		}
	}

	if err := c.resolveClientOrderIDs(ctx, fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// resolveClientOrderIDs fills in missing client order ids by looking up the
// parent order. An order the broker no longer knows (404) leaves the fill
// unattributed; any other failure is returned.
func (c *Client) resolveClientOrderIDs(ctx context.Context, fills []domain.BrokerFill) error {
	resolved := make(map[string]string)
	for i := range fills {
		f := &fills[i]
		if f.ClientOrderID != "" || f.OrderID == "" {
			continue
		}
		cid, ok := resolved[f.OrderID]
		if !ok {
			var order APIOrder
			err := c.getJSON(ctx, c.tradingURL, "/v2/orders/"+url.PathEscape(f.OrderID), &order)
			var apiErr *APIError
			switch {
			case err == nil:
				cid = order.ClientOrderID
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
			default:
				return fmt.Errorf("alpaca: resolve client order id for %s: %w", f.OrderID, err)
			}
			resolved[f.OrderID] = cid
		}
		f.ClientOrderID = cid
	}
	return nil
}

// Ping checks that the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Account(ctx)
	return err
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) getJSON(ctx context.Context, base, path string, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, base, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doRequest executes an authenticated request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, base, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.keyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx responses to an *APIError.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return &APIError{StatusCode: statusCode, Code: apiErr.Code, Message: apiErr.Message}
}

var (
	_ domain.Broker      = (*Client)(nil)
	_ domain.PriceSource = (*Client)(nil)
)
