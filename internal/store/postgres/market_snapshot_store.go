package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// MarketSnapshotStore implements domain.MarketSnapshotStore.
type MarketSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewMarketSnapshotStore creates a MarketSnapshotStore.
func NewMarketSnapshotStore(pool *pgxpool.Pool) *MarketSnapshotStore {
	return &MarketSnapshotStore{pool: pool}
}

// AppendBatch inserts one row per snapshot in a single round trip.
func (s *MarketSnapshotStore) AppendBatch(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	const query = `INSERT INTO market_snapshots (ts, symbol, price, stale) VALUES ($1, $2, $3, $4)`

	batch := &pgx.Batch{}
	for _, m := range snaps {
		batch.Queue(query, utc(m.ObservedAt), m.Symbol, m.Price, m.Stale)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert market snapshot %s (batch item %d): %w", snaps[i].Symbol, i, err)
		}
	}
	return nil
}

// ListBefore returns snapshots observed before the cutoff, oldest first.
func (s *MarketSnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error) {
	query, args := limitClause(
		`SELECT ts, symbol, price, stale FROM market_snapshots WHERE ts < $1 ORDER BY ts ASC, id ASC`,
		[]any{utc(before)}, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketSnapshot
	for rows.Next() {
		var m domain.MarketSnapshot
		if err := rows.Scan(&m.ObservedAt, &m.Symbol, &m.Price, &m.Stale); err != nil {
			return nil, fmt.Errorf("postgres: scan market snapshot: %w", err)
		}
		m.ObservedAt = m.ObservedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list market snapshots rows: %w", err)
	}
	return out, nil
}
