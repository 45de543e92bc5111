package domain

import (
	"math"
	"time"
)

// MarketSnapshot is one symbol's price observed during a tick. Stale marks a
// fallback price (cached or 0) used because the live fetch failed.
type MarketSnapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"ts"`
	Stale      bool      `json:"stale,omitempty"`
}

// Live reports whether the snapshot carries a freshly observed, usable price.
func (m MarketSnapshot) Live() bool {
	return !m.Stale && m.Price > 0 && !math.IsNaN(m.Price) && !math.IsInf(m.Price, 0)
}

// PositionSnapshot is a normalised signed position: positive is long,
// negative is short.
type PositionSnapshot struct {
	Symbol string
	Qty    float64
}

// BrokerPosition is a position as the broker reports it, with an unsigned
// quantity and an explicit side.
type BrokerPosition struct {
	Symbol string
	Qty    float64
	Side   string // "long" or "short"
}

// MarketClock reports whether the exchange is currently open.
type MarketClock struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// Account is a summary of the broker account.
type Account struct {
	ID          string
	Status      string
	Currency    string
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// Prices maps a symbol to its latest price.
type Prices map[string]float64

// Positions maps a symbol to its signed quantity.
type Positions map[string]float64
