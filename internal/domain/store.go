package domain

import (
	"context"
	"strings"
	"time"
)

// ListOpts provides pagination and filtering for list queries. Event matches
// exactly, or as a prefix when it ends in "." (AuditArchivePrefix). AgentID
// restricts audit rows to one agent.
type ListOpts struct {
	Limit   int
	Offset  int
	Since   *time.Time
	Until   *time.Time
	Event   string
	AgentID string
}

// MarketSnapshotStore persists per-tick market prices.
type MarketSnapshotStore interface {
	AppendBatch(ctx context.Context, snaps []MarketSnapshot) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]MarketSnapshot, error)
}

// OrderStore persists order outcomes.
type OrderStore interface {
	Append(ctx context.Context, rec OrderRecord) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]OrderRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]OrderRecord, error)
}

// ClientOrderStore maps client order ids back to agents.
type ClientOrderStore interface {
	Upsert(ctx context.Context, m ClientOrderMapping) error
	Get(ctx context.Context, clientOrderID string) (ClientOrderMapping, error)
}

// FillStore persists attributed fills. AppendBatch ignores fills whose
// ActivityID is already stored.
type FillStore interface {
	AppendBatch(ctx context.Context, fills []FillRecord) (int, error)
	ListOrdered(ctx context.Context) ([]FillRecord, error)
}

// EquityStore persists per-agent equity snapshots.
type EquityStore interface {
	AppendBatch(ctx context.Context, snaps []EquitySnapshot) error
	LatestPerAgent(ctx context.Context) ([]EquitySnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]EquitySnapshot, error)
}

// CheckpointStore persists the fill reconciliation watermark. ok is false
// when no checkpoint has been stored yet.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context) (ts time.Time, ok bool, err error)
	SetCheckpoint(ctx context.Context, ts time.Time) error
}

// AgentStateStore persists LLM agent memory.
type AgentStateStore interface {
	Get(ctx context.Context, agentID string) (AgentState, error)
	Upsert(ctx context.Context, st AgentState) error
}

// Audit events written by the arena.
const (
	AuditOrderPlaced   = "order_placed"
	AuditAgentBackoff  = "agent_backoff"
	AuditArchivePrefix = "archive."
)

// AuditEntry is a single audit log row. AgentID is lifted from the detail's
// "agent" key; archive rows have none.
type AuditEntry struct {
	ID        int64
	Event     string
	AgentID   string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditAgent returns the agent named in an audit detail, if any.
func AuditAgent(detail map[string]any) string {
	id, _ := detail["agent"].(string)
	return id
}

// Matches reports whether the entry passes the event and agent filters in
// opts. Time windows and paging are left to the store.
func (e AuditEntry) Matches(opts ListOpts) bool {
	if opts.AgentID != "" && e.AgentID != opts.AgentID {
		return false
	}
	switch {
	case opts.Event == "":
		return true
	case strings.HasSuffix(opts.Event, "."):
		return strings.HasPrefix(e.Event, opts.Event)
	default:
		return e.Event == opts.Event
	}
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
