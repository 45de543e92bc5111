package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/llm"
)

// charsPerToken approximates the token budget of the summary in characters.
const charsPerToken = 4

// Memory loads and updates the persisted context of LLM agents.
type Memory struct {
	states   domain.AgentStateStore
	maxItems int
	maxChars int
	now      func() time.Time
}

// NewMemory creates a Memory that keeps maxItems recent decisions and a
// summary of roughly summaryTokens tokens.
func NewMemory(states domain.AgentStateStore, maxItems, summaryTokens int) *Memory {
	return &Memory{
		states:   states,
		maxItems: maxItems,
		maxChars: summaryTokens * charsPerToken,
		now:      time.Now,
	}
}

// Load returns the stored context for agentID. An agent with no stored state
// gets an empty context.
func (m *Memory) Load(ctx context.Context, agentID string) (*llm.Memory, error) {
	st, err := m.states.Get(ctx, agentID)
	if errors.Is(err, domain.ErrNotFound) {
		return &llm.Memory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agent: load memory %s: %w", agentID, err)
	}
	return &llm.Memory{Summary: st.Summary, Recent: st.Recent}, nil
}

// Remember appends a decision to agentID's context and refreshes its summary.
func (m *Memory) Remember(ctx context.Context, agentID string, at time.Time, intents []domain.OrderIntent) error {
	st, err := m.states.Get(ctx, agentID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("agent: load memory %s: %w", agentID, err)
	}

	st.AgentID = agentID
	st.LastSeen = at
	st.UpdatedAt = m.now().UTC()
	st.Recent = append(st.Recent, domain.DecisionNote{At: at, Intents: intents})
	if len(st.Recent) > m.maxItems {
		st.Recent = st.Recent[len(st.Recent)-m.maxItems:]
	}
	st.Summary = m.summarize(st.Summary, at, intents)

	if err := m.states.Upsert(ctx, st); err != nil {
		return fmt.Errorf("agent: save memory %s: %w", agentID, err)
	}
	return nil
}

// summarize appends one line per decision and keeps the newest maxChars
// characters, cut at a line boundary.
func (m *Memory) summarize(prev string, at time.Time, intents []domain.OrderIntent) string {
	var b strings.Builder
	b.WriteString(prev)
	if prev != "" {
		b.WriteByte('\n')
	}
	b.WriteString(at.UTC().Format("2006-01-02T15:04Z"))
	if len(intents) == 0 {
		b.WriteString(" hold")
	}
	for _, it := range intents {
		fmt.Fprintf(&b, " %s %s $%.0f;", it.Side, it.Symbol, it.NotionalUSD)
	}

	s := b.String()
	if m.maxChars <= 0 || len(s) <= m.maxChars {
		return s
	}
	s = s[len(s)-m.maxChars:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < len(s)-1 {
		s = s[nl+1:]
	}
	return s
}
