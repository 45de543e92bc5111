package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// EquityStore implements domain.EquityStore.
type EquityStore struct {
	pool *pgxpool.Pool
}

// NewEquityStore creates an EquityStore.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// AppendBatch inserts one snapshot per agent.
func (s *EquityStore) AppendBatch(ctx context.Context, snaps []domain.EquitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	const query = `INSERT INTO equity_snapshots (ts, agent_id, equity_usd) VALUES ($1, $2, $3)`

	batch := &pgx.Batch{}
	for _, e := range snaps {
		batch.Queue(query, utc(e.Timestamp), e.AgentID, e.EquityUSD)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert equity for %s: %w", snaps[i].AgentID, err)
		}
	}
	return nil
}

// LatestPerAgent returns each agent's newest snapshot, highest equity first.
func (s *EquityStore) LatestPerAgent(ctx context.Context) ([]domain.EquitySnapshot, error) {
	const query = `
		SELECT ts, agent_id, equity_usd FROM (
			SELECT DISTINCT ON (agent_id) ts, agent_id, equity_usd
			FROM equity_snapshots
			ORDER BY agent_id, ts DESC, id DESC
		) latest
		ORDER BY equity_usd DESC, agent_id ASC`
	return s.query(ctx, "latest equity", query)
}

// ListBefore returns snapshots taken before the cutoff, oldest first.
func (s *EquityStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error) {
	query, args := limitClause(
		`SELECT ts, agent_id, equity_usd FROM equity_snapshots WHERE ts < $1 ORDER BY ts ASC, id ASC`,
		[]any{utc(before)}, limit)
	return s.query(ctx, "list equity before", query, args...)
}

func (s *EquityStore) query(ctx context.Context, op, query string, args ...any) ([]domain.EquitySnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.EquitySnapshot
	for rows.Next() {
		var e domain.EquitySnapshot
		if err := rows.Scan(&e.Timestamp, &e.AgentID, &e.EquityUSD); err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
