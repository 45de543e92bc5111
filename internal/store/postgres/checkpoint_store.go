package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// fillCheckpointKey is the meta row holding the reconciliation watermark.
const fillCheckpointKey = "fills_checkpoint"

// CheckpointStore implements domain.CheckpointStore on the meta table.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a CheckpointStore.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// GetCheckpoint returns the stored watermark; ok is false when none exists.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context) (time.Time, bool, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `SELECT ts_value FROM meta WHERE key = $1`, fillCheckpointKey).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres: get checkpoint: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

// SetCheckpoint stores ts unless an equal or later watermark is already
// stored.
func (s *CheckpointStore) SetCheckpoint(ctx context.Context, ts time.Time) error {
	const query = `
		INSERT INTO meta (key, ts_value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET ts_value = GREATEST(meta.ts_value, EXCLUDED.ts_value), updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, fillCheckpointKey, utc(ts)); err != nil {
		return fmt.Errorf("postgres: set checkpoint: %w", err)
	}
	return nil
}
