package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/ledger"
)

// AgentPnL is one agent's realized PnL and position count from the ledger.
type AgentPnL struct {
	AgentID     string  `json:"agentId"`
	RealizedUSD float64 `json:"realizedUsd"`
	CashUSD     float64 `json:"cashUsd"`
	OpenSymbols int     `json:"openSymbols"`
}

// Standings answers leaderboard and PnL queries for the read API and CLI.
type Standings struct {
	equity       domain.EquityStore
	fills        domain.FillStore
	startingCash float64
}

// NewStandings creates Standings.
func NewStandings(equity domain.EquityStore, fills domain.FillStore, startingCash float64) *Standings {
	return &Standings{equity: equity, fills: fills, startingCash: startingCash}
}

// Leaderboard returns each agent's latest equity snapshot, highest first.
func (s *Standings) Leaderboard(ctx context.Context) ([]domain.EquitySnapshot, error) {
	snaps, err := s.equity.LatestPerAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("standings: leaderboard: %w", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].EquityUSD > snaps[j].EquityUSD })
	return snaps, nil
}

// PnL replays the fill log and reports realized PnL per agent, including
// the unknown bucket when unattributed fills exist. Agents are sorted by
// realized PnL, highest first.
func (s *Standings) PnL(ctx context.Context) ([]AgentPnL, error) {
	fills, err := s.fills.ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("standings: pnl: %w", err)
	}
	l := ledger.Replay(fills, s.startingCash)

	out := make([]AgentPnL, 0, len(l.Agents()))
	for _, id := range l.Agents() {
		b := l.Book(id)
		open := 0
		for _, q := range b.Holdings {
			if !q.IsZero() {
				open++
			}
		}
		out = append(out, AgentPnL{
			AgentID:     id,
			RealizedUSD: b.Realized.InexactFloat64(),
			CashUSD:     b.Cash.InexactFloat64(),
			OpenSymbols: open,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RealizedUSD > out[j].RealizedUSD })
	return out, nil
}
