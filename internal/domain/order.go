package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide normalises a side string. ok is false for anything other
// than buy or sell.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch OrderSide(strings.ToLower(strings.TrimSpace(s))) {
	case OrderSideBuy:
		return OrderSideBuy, true
	case OrderSideSell:
		return OrderSideSell, true
	}
	return "", false
}

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderIntent is a proposed, not yet risk-checked order produced by an agent.
// Intents live for a single tick and are never persisted.
type OrderIntent struct {
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	NotionalUSD float64   `json:"notionalUsd"`
}

// Validate checks that the intent has a symbol, a known side and a positive
// finite notional. Failures wrap ErrInvalidIntent.
func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidIntent)
	}
	if i.Side != OrderSideBuy && i.Side != OrderSideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidIntent, i.Side)
	}
	if !(i.NotionalUSD > 0) || math.IsInf(i.NotionalUSD, 0) {
		return fmt.Errorf("%w: notional %v", ErrInvalidIntent, i.NotionalUSD)
	}
	return nil
}

// Valid reports whether Validate passes.
func (i OrderIntent) Valid() bool { return i.Validate() == nil }

// OrderStatus is the outcome recorded for an accepted intent. Broker statuses
// ("accepted", "new", "filled", ...) pass through verbatim.
type OrderStatus string

const (
	OrderStatusDryRun OrderStatus = "DRY_RUN"
	OrderStatusError  OrderStatus = "ERROR"
)

// OrderRecord is the append-only outcome of one accepted intent.
type OrderRecord struct {
	ID            int64       `json:"id"`
	Timestamp     time.Time   `json:"ts"`
	AgentID       string      `json:"agentId"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	NotionalUSD   float64     `json:"notionalUsd"`
	Status        OrderStatus `json:"status"`
	BrokerOrderID string      `json:"orderId,omitempty"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// ClientOrderMapping attributes a client-assigned order id to the agent that
// produced it. A client id, once mapped, is never reassigned.
type ClientOrderMapping struct {
	ClientOrderID string
	AgentID       string
	Symbol        string
	CreatedAt     time.Time
}

// LimitOrderRequest is a GTC limit order sent to the broker.
type LimitOrderRequest struct {
	Symbol        string
	Side          OrderSide
	LimitPrice    float64
	Qty           float64
	ClientOrderID string
}

// OrderAck is the broker response to an order submission.
type OrderAck struct {
	ID            string
	ClientOrderID string
	Status        string
	SubmittedAt   time.Time
}
