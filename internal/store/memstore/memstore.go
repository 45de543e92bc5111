// Package memstore provides in-process implementations of the arena store
// interfaces. It backs the "memory" store driver and the package tests; data
// does not survive a restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

// Store holds every table behind one mutex.
type Store struct {
	mu         sync.RWMutex
	markets    []domain.MarketSnapshot
	orders     []domain.OrderRecord
	mappings   map[string]domain.ClientOrderMapping
	fills      []domain.FillRecord
	activities map[string]bool
	equity     []domain.EquitySnapshot
	checkpoint time.Time
	hasCkpt    bool
	states     map[string]domain.AgentState
	audit      []domain.AuditEntry
	prices     map[string]cachedPrice
	seq        int64
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		mappings:   make(map[string]domain.ClientOrderMapping),
		activities: make(map[string]bool),
		states:     make(map[string]domain.AgentState),
		prices:     make(map[string]cachedPrice),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// Markets returns the MarketSnapshotStore view.
func (s *Store) Markets() *MarketStore { return &MarketStore{s} }

// Orders returns the OrderStore view.
func (s *Store) Orders() *OrderStore { return &OrderStore{s} }

// ClientOrders returns the ClientOrderStore view.
func (s *Store) ClientOrders() *ClientOrderStore { return &ClientOrderStore{s} }

// Fills returns the FillStore view.
func (s *Store) Fills() *FillStore { return &FillStore{s} }

// Equity returns the EquityStore view.
func (s *Store) Equity() *EquityStore { return &EquityStore{s} }

// Checkpoints returns the CheckpointStore view.
func (s *Store) Checkpoints() *CheckpointStore { return &CheckpointStore{s} }

// AgentStates returns the AgentStateStore view.
func (s *Store) AgentStates() *AgentStateStore { return &AgentStateStore{s} }

// Audit returns the AuditStore view.
func (s *Store) Audit() *AuditStore { return &AuditStore{s} }

// Prices returns the PriceCache view.
func (s *Store) Prices() *PriceCache { return &PriceCache{s} }

// MarketStore implements domain.MarketSnapshotStore.
type MarketStore struct{ s *Store }

func (m *MarketStore) AppendBatch(_ context.Context, snaps []domain.MarketSnapshot) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.markets = append(m.s.markets, snaps...)
	return nil
}

func (m *MarketStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []domain.MarketSnapshot
	for _, snap := range m.s.markets {
		if snap.ObservedAt.Before(before) {
			out = append(out, snap)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every stored snapshot.
func (m *MarketStore) All() []domain.MarketSnapshot {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return append([]domain.MarketSnapshot(nil), m.s.markets...)
}

// OrderStore implements domain.OrderStore.
type OrderStore struct{ s *Store }

func (o *OrderStore) Append(_ context.Context, rec domain.OrderRecord) (int64, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	rec.ID = o.s.nextSeq()
	o.s.orders = append(o.s.orders, rec)
	return rec.ID, nil
}

func (o *OrderStore) ListRecent(_ context.Context, limit int) ([]domain.OrderRecord, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	n := len(o.s.orders)
	out := make([]domain.OrderRecord, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, o.s.orders[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *OrderStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.OrderRecord, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	var out []domain.OrderRecord
	for _, rec := range o.s.orders {
		if rec.Timestamp.Before(before) {
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every stored order in insertion order.
func (o *OrderStore) All() []domain.OrderRecord {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return append([]domain.OrderRecord(nil), o.s.orders...)
}

// ClientOrderStore implements domain.ClientOrderStore.
type ClientOrderStore struct{ s *Store }

func (c *ClientOrderStore) Upsert(_ context.Context, m domain.ClientOrderMapping) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.mappings[m.ClientOrderID] = m
	return nil
}

func (c *ClientOrderStore) Get(_ context.Context, clientOrderID string) (domain.ClientOrderMapping, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	m, ok := c.s.mappings[clientOrderID]
	if !ok {
		return domain.ClientOrderMapping{}, domain.ErrNotFound
	}
	return m, nil
}

// FillStore implements domain.FillStore.
type FillStore struct{ s *Store }

func (f *FillStore) AppendBatch(_ context.Context, fills []domain.FillRecord) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	n := 0
	for _, rec := range fills {
		if rec.ActivityID != "" {
			if f.s.activities[rec.ActivityID] {
				continue
			}
			f.s.activities[rec.ActivityID] = true
		}
		rec.Seq = f.s.nextSeq()
		f.s.fills = append(f.s.fills, rec)
		n++
	}
	return n, nil
}

func (f *FillStore) ListOrdered(_ context.Context) ([]domain.FillRecord, error) {
	f.s.mu.RLock()
	out := append([]domain.FillRecord(nil), f.s.fills...)
	f.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// EquityStore implements domain.EquityStore.
type EquityStore struct{ s *Store }

func (e *EquityStore) AppendBatch(_ context.Context, snaps []domain.EquitySnapshot) error {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.s.equity = append(e.s.equity, snaps...)
	return nil
}

func (e *EquityStore) LatestPerAgent(_ context.Context) ([]domain.EquitySnapshot, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	latest := make(map[string]domain.EquitySnapshot)
	for _, snap := range e.s.equity {
		cur, ok := latest[snap.AgentID]
		if !ok || !snap.Timestamp.Before(cur.Timestamp) {
			latest[snap.AgentID] = snap
		}
	}
	out := make([]domain.EquitySnapshot, 0, len(latest))
	for _, snap := range latest {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EquityUSD != out[j].EquityUSD {
			return out[i].EquityUSD > out[j].EquityUSD
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func (e *EquityStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var out []domain.EquitySnapshot
	for _, snap := range e.s.equity {
		if snap.Timestamp.Before(before) {
			out = append(out, snap)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every stored snapshot in insertion order.
func (e *EquityStore) All() []domain.EquitySnapshot {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	return append([]domain.EquitySnapshot(nil), e.s.equity...)
}

// CheckpointStore implements domain.CheckpointStore. Writes never move the
// checkpoint backwards.
type CheckpointStore struct{ s *Store }

func (c *CheckpointStore) GetCheckpoint(_ context.Context) (time.Time, bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	return c.s.checkpoint, c.s.hasCkpt, nil
}

func (c *CheckpointStore) SetCheckpoint(_ context.Context, ts time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if !c.s.hasCkpt || ts.After(c.s.checkpoint) {
		c.s.checkpoint = ts
		c.s.hasCkpt = true
	}
	return nil
}

// AgentStateStore implements domain.AgentStateStore.
type AgentStateStore struct{ s *Store }

func (a *AgentStateStore) Get(_ context.Context, agentID string) (domain.AgentState, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	st, ok := a.s.states[agentID]
	if !ok {
		return domain.AgentState{}, domain.ErrNotFound
	}
	st.Recent = append([]domain.DecisionNote(nil), st.Recent...)
	return st, nil
}

func (a *AgentStateStore) Upsert(_ context.Context, st domain.AgentState) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	st.Recent = append([]domain.DecisionNote(nil), st.Recent...)
	a.s.states[st.AgentID] = st
	return nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        a.s.nextSeq(),
		Event:     event,
		AgentID:   domain.AuditAgent(detail),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(a.s.audit))
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		e := a.s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		if !e.Matches(opts) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// PriceCache implements domain.PriceCache.
type PriceCache struct{ s *Store }

func (p *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.prices[symbol] = cachedPrice{price: price, ts: ts}
	return nil
}

func (p *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	c, ok := p.s.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return c.price, c.ts, nil
}

func (p *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if c, ok := p.s.prices[sym]; ok {
			out[sym] = c.price
		}
	}
	return out, nil
}

var (
	_ domain.MarketSnapshotStore = (*MarketStore)(nil)
	_ domain.OrderStore          = (*OrderStore)(nil)
	_ domain.ClientOrderStore    = (*ClientOrderStore)(nil)
	_ domain.FillStore           = (*FillStore)(nil)
	_ domain.EquityStore         = (*EquityStore)(nil)
	_ domain.CheckpointStore     = (*CheckpointStore)(nil)
	_ domain.AgentStateStore     = (*AgentStateStore)(nil)
	_ domain.AuditStore          = (*AuditStore)(nil)
	_ domain.PriceCache          = (*PriceCache)(nil)
)
