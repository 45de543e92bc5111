package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

// Penalty windows applied after classified decision failures.
const (
	RateLimitBackoff  = 60 * time.Minute
	DataPolicyBackoff = 30 * time.Minute
	ModerationBackoff = 10 * time.Minute
)

var (
	rateLimitRe  = regexp.MustCompile(`(?i)rate limit`)
	dataPolicyRe = regexp.MustCompile(`(?i)data policy|publication`)
	moderationRe = regexp.MustCompile(`(?i)moderation`)
)

// ClassifyBackoff maps a decision error to a penalty window. Unrecognised
// errors get no penalty so an unknown failure never disables an agent.
func ClassifyBackoff(err error) time.Duration {
	if err == nil {
		return 0
	}
	status := domain.StatusOf(err)
	msg := err.Error()
	switch {
	case status == http.StatusTooManyRequests || errors.Is(err, domain.ErrRateLimited) || rateLimitRe.MatchString(msg):
		return RateLimitBackoff
	case status == http.StatusNotFound && dataPolicyRe.MatchString(msg):
		return DataPolicyBackoff
	case status == http.StatusForbidden && moderationRe.MatchString(msg):
		return ModerationBackoff
	}
	return 0
}

// GateState is one agent's admission state. Zero times mean unset.
type GateState struct {
	AgentID      string    `json:"agentId"`
	LastCallAt   time.Time `json:"lastCallAt"`
	BackoffUntil time.Time `json:"backoffUntil"`
}

// AgentGate decides whether an agent may be invoked this tick. It enforces a
// minimum interval between successful calls and a penalty window after
// classified failures; either one blocks.
type AgentGate struct {
	mu              sync.Mutex
	state           map[string]*GateState
	minCallInterval time.Duration
	logger          *slog.Logger
}

// NewAgentGate creates an AgentGate.
func NewAgentGate(minCallInterval time.Duration, logger *slog.Logger) *AgentGate {
	return &AgentGate{
		state:           make(map[string]*GateState),
		minCallInterval: minCallInterval,
		logger:          logger.With(slog.String("component", "agent_gate")),
	}
}

func (g *AgentGate) get(agentID string) *GateState {
	st, ok := g.state[agentID]
	if !ok {
		st = &GateState{AgentID: agentID}
		g.state[agentID] = st
	}
	return st
}

// Admit reports whether agentID may be invoked at now. When it may not, the
// returned error says why.
func (g *AgentGate) Admit(agentID string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.get(agentID)
	if now.Before(st.BackoffUntil) {
		return fmt.Errorf("agent_gate: %s in backoff until %s", agentID, st.BackoffUntil.Format(time.RFC3339))
	}
	if !st.LastCallAt.IsZero() && now.Sub(st.LastCallAt) < g.minCallInterval {
		return fmt.Errorf("agent_gate: %s called %s ago, min interval %s",
			agentID, now.Sub(st.LastCallAt).Round(time.Second), g.minCallInterval)
	}
	return nil
}

// RecordSuccess starts agentID's cooldown at now.
func (g *AgentGate) RecordSuccess(agentID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.get(agentID).LastCallAt = now
}

// RecordFailure classifies err and, for recognised failures, blocks agentID
// until now plus the penalty. It returns the penalty applied (0 for none).
// LastCallAt is left unchanged.
func (g *AgentGate) RecordFailure(agentID string, err error, now time.Time) time.Duration {
	d := ClassifyBackoff(err)
	if d <= 0 {
		return 0
	}

	g.mu.Lock()
	st := g.get(agentID)
	st.BackoffUntil = now.Add(d)
	until := st.BackoffUntil
	g.mu.Unlock()

	g.logger.Warn("agent_gate: applied backoff",
		slog.String("agent", agentID),
		slog.Duration("backoff", d),
		slog.Time("until", until),
	)
	return d
}

// Snapshot returns a copy of every agent's state, sorted by agent id.
func (g *AgentGate) Snapshot() []GateState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]GateState, 0, len(g.state))
	for _, st := range g.state {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
