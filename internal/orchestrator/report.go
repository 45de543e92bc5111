package orchestrator

import (
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/service"
)

// Agent outcomes recorded in a TickReport.
const (
	AgentBlocked = "blocked"
	AgentFailed  = "failed"
	AgentDecided = "decided"
)

// AgentReport is what happened to one agent during a tick.
type AgentReport struct {
	AgentID  string               `json:"agentId"`
	Outcome  string               `json:"outcome"`
	Reason   string               `json:"reason,omitempty"`
	Intents  int                  `json:"intents"`
	Rejected int                  `json:"rejected"`
	Orders   []domain.OrderRecord `json:"orders,omitempty"`
	Backoff  time.Duration        `json:"backoff,omitempty"`
	Equity   float64              `json:"equity"`
}

// TickReport summarises one completed tick.
type TickReport struct {
	StartedAt      time.Time           `json:"startedAt"`
	FinishedAt     time.Time           `json:"finishedAt"`
	Prices         domain.Prices       `json:"prices"`
	Positions      domain.Positions    `json:"positions"`
	MarketOpen     bool                `json:"marketOpen"`
	Agents         []AgentReport       `json:"agents"`
	Reconcile      *service.SyncResult `json:"reconcile,omitempty"`
	ReconcileError string              `json:"reconcileError,omitempty"`
}

// Agent returns the report for agentID, or nil.
func (r *TickReport) Agent(agentID string) *AgentReport {
	for i := range r.Agents {
		if r.Agents[i].AgentID == agentID {
			return &r.Agents[i]
		}
	}
	return nil
}
