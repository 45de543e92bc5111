package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// AgentStateStore implements domain.AgentStateStore on model_state.
type AgentStateStore struct {
	pool *pgxpool.Pool
}

// NewAgentStateStore creates an AgentStateStore.
func NewAgentStateStore(pool *pgxpool.Pool) *AgentStateStore {
	return &AgentStateStore{pool: pool}
}

// Get loads an agent's memory or returns domain.ErrNotFound.
func (s *AgentStateStore) Get(ctx context.Context, agentID string) (domain.AgentState, error) {
	const query = `SELECT agent_id, summary, last_seen, recent, updated_at FROM model_state WHERE agent_id = $1`

	var (
		st       domain.AgentState
		lastSeen *time.Time
		recent   []byte
	)
	err := s.pool.QueryRow(ctx, query, agentID).Scan(&st.AgentID, &st.Summary, &lastSeen, &recent, &st.UpdatedAt)
	if err != nil {
		return st, notFound(err, "get agent state "+agentID)
	}
	if lastSeen != nil {
		st.LastSeen = lastSeen.UTC()
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	if len(recent) > 0 {
		if err := json.Unmarshal(recent, &st.Recent); err != nil {
			return st, fmt.Errorf("postgres: decode agent state %s: %w", agentID, err)
		}
	}
	return st, nil
}

// Upsert replaces an agent's memory.
func (s *AgentStateStore) Upsert(ctx context.Context, st domain.AgentState) error {
	recent := st.Recent
	if recent == nil {
		recent = []domain.DecisionNote{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("postgres: encode agent state %s: %w", st.AgentID, err)
	}

	var lastSeen any
	if !st.LastSeen.IsZero() {
		lastSeen = utc(st.LastSeen)
	}

	const query = `
		INSERT INTO model_state (agent_id, summary, last_seen, recent, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			last_seen = EXCLUDED.last_seen,
			recent = EXCLUDED.recent,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, st.AgentID, st.Summary, lastSeen, recentJSON); err != nil {
		return fmt.Errorf("postgres: upsert agent state %s: %w", st.AgentID, err)
	}
	return nil
}
