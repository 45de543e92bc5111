package domain

import "time"

// UnknownAgent owns fills that cannot be attributed through a client order
// mapping. It is excluded from every agent's ledger.
const UnknownAgent = "unknown"

// BrokerFill is a raw fill activity as returned by the broker. Time is kept
// as the broker's string so unparsable entries can be skipped downstream.
type BrokerFill struct {
	ActivityID    string
	Time          string
	Symbol        string
	Side          string
	Qty           float64
	Price         float64
	OrderID       string
	ClientOrderID string
}

// FillRecord is an attributed, persisted fill. Seq is assigned by the store
// and breaks timestamp ties in insertion order.
type FillRecord struct {
	Seq           int64     `json:"seq,omitempty"`
	ActivityID    string    `json:"activityId,omitempty"`
	Timestamp     time.Time `json:"ts"`
	AgentID       string    `json:"agentId"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Qty           float64   `json:"qty"`
	Price         float64   `json:"price"`
	OrderID       string    `json:"orderId,omitempty"`
	ClientOrderID string    `json:"clientOrderId,omitempty"`
}

// EquitySnapshot is one agent's mark-to-market equity at a tick.
type EquitySnapshot struct {
	Timestamp time.Time `json:"ts"`
	AgentID   string    `json:"agentId"`
	EquityUSD float64   `json:"equityUsd"`
}

// AgentState is the persisted memory of an LLM-backed agent.
type AgentState struct {
	AgentID   string
	Summary   string
	LastSeen  time.Time
	Recent    []DecisionNote
	UpdatedAt time.Time
}

// DecisionNote is one remembered decision.
type DecisionNote struct {
	At      time.Time     `json:"at"`
	Intents []OrderIntent `json:"intents"`
}
