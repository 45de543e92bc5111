package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// FillStore implements domain.FillStore. The unique index on activity_id
// makes re-delivered fills a no-op; fills without an activity id are stored
// with a NULL id and never collide.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// AppendBatch inserts fills and returns how many were new.
func (s *FillStore) AppendBatch(ctx context.Context, fills []domain.FillRecord) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO fills (activity_id, ts, agent_id, symbol, side, qty, price, order_id, client_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (activity_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, f := range fills {
		batch.Queue(query,
			nullText(f.ActivityID), utc(f.Timestamp), f.AgentID, f.Symbol, string(f.Side),
			f.Qty, f.Price, nullText(f.OrderID), nullText(f.ClientOrderID),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := range fills {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert fill %s (batch item %d): %w", fills[i].ActivityID, i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ListOrdered returns every fill by timestamp, ties broken by insertion
// order.
func (s *FillStore) ListOrdered(ctx context.Context) ([]domain.FillRecord, error) {
	const query = `
		SELECT seq, activity_id, ts, agent_id, symbol, side, qty, price, order_id, client_order_id
		FROM fills ORDER BY ts ASC, seq ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	var out []domain.FillRecord
	for rows.Next() {
		var (
			f                         domain.FillRecord
			side                      string
			activityID, orderID, coid *string
		)
		if err := rows.Scan(&f.Seq, &activityID, &f.Timestamp, &f.AgentID, &f.Symbol, &side,
			&f.Qty, &f.Price, &orderID, &coid); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		f.Timestamp = f.Timestamp.UTC()
		f.Side = domain.OrderSide(side)
		f.ActivityID = derefText(activityID)
		f.OrderID = derefText(orderID)
		f.ClientOrderID = derefText(coid)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list fills rows: %w", err)
	}
	return out, nil
}
