package alpaca

import (
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// Alpaca API DTOs
// --------------------------------------------------------------------------

// Alpaca encodes most quantities and amounts as JSON strings. decimal.Decimal
// decodes both the quoted and the bare form.

// APIAccount is the response of GET /v2/account.
type APIAccount struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Currency    string          `json:"currency"`
	Cash        decimal.Decimal `json:"cash"`
	Equity      decimal.Decimal `json:"equity"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}

// ToDomain converts the account DTO.
func (a APIAccount) ToDomain() domain.Account {
	return domain.Account{
		ID:          a.ID,
		Status:      a.Status,
		Currency:    a.Currency,
		Cash:        a.Cash.InexactFloat64(),
		Equity:      a.Equity.InexactFloat64(),
		BuyingPower: a.BuyingPower.InexactFloat64(),
	}
}

// APIPosition is one element of GET /v2/positions.
type APIPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"` // "long" or "short"
	MarketValue   decimal.Decimal `json:"market_value"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

// APIClock is the response of GET /v2/clock.
type APIClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// APILatestTrade is the response of GET /v2/stocks/{symbol}/trades/latest.
type APILatestTrade struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Timestamp string   `json:"t"`
		Price     *float64 `json:"p"`
		Size      float64  `json:"s"`
	} `json:"trade"`
}

// APIOrderRequest is the body of POST /v2/orders.
type APIOrderRequest struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price"`
	Qty           string `json:"qty"`
	ClientOrderID string `json:"client_order_id"`
}

// APIOrder is the subset of the order object the arena reads.
type APIOrder struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Status        string    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// APIActivity is one element of GET /v2/account/activities. Older payloads
// use activity_id, quantity and date instead of id, qty and transaction_time.
type APIActivity struct {
	ID              string          `json:"id"`
	ActivityID      string          `json:"activity_id"`
	ActivityType    string          `json:"activity_type"`
	TransactionTime string          `json:"transaction_time"`
	Date            string          `json:"date"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	OrderID         string          `json:"order_id"`
	ClientOrderID   string          `json:"client_order_id"`
}

// IsFill reports whether the activity is a trade execution.
func (a APIActivity) IsFill() bool {
	return strings.EqualFold(a.ActivityType, "FILL")
}

// ToDomainFill converts the activity, resolving the legacy field names.
func (a APIActivity) ToDomainFill() domain.BrokerFill {
	id := a.ID
	if id == "" {
		id = a.ActivityID
	}
	ts := a.TransactionTime
	if ts == "" {
		ts = a.Date
	}
	qty := a.Qty
	if qty.IsZero() {
		qty = a.Quantity
	}
	side := a.Side
	if side == "" {
		side = "buy"
	}
	return domain.BrokerFill{
		ActivityID:    id,
		Time:          ts,
		Symbol:        a.Symbol,
		Side:          side,
		Qty:           qty.InexactFloat64(),
		Price:         a.Price.InexactFloat64(),
		OrderID:       a.OrderID,
		ClientOrderID: a.ClientOrderID,
	}
}

// APIErrorResponse is the error body Alpaca returns on non-2xx responses.
type APIErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
