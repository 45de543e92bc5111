package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// OrderStore implements domain.OrderStore. Rows are never updated.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, ts, agent_id, symbol, side, notional_usd, status, broker_order_id, client_order_id, error`

// Append inserts an order outcome and returns its row id.
func (s *OrderStore) Append(ctx context.Context, rec domain.OrderRecord) (int64, error) {
	const query = `
		INSERT INTO orders (ts, agent_id, symbol, side, notional_usd, status, broker_order_id, client_order_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		utc(rec.Timestamp), rec.AgentID, rec.Symbol, string(rec.Side), rec.NotionalUSD,
		string(rec.Status), nullText(rec.BrokerOrderID), nullText(rec.ClientOrderID), nullText(rec.Error),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: append order for %s: %w", rec.AgentID, err)
	}
	return id, nil
}

// ListRecent returns the newest orders first.
func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]domain.OrderRecord, error) {
	query, args := limitClause(
		`SELECT `+orderColumns+` FROM orders ORDER BY ts DESC, id DESC`, nil, limit)
	return s.query(ctx, "list recent orders", query, args...)
}

// ListBefore returns orders placed before the cutoff, oldest first.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OrderRecord, error) {
	query, args := limitClause(
		`SELECT `+orderColumns+` FROM orders WHERE ts < $1 ORDER BY ts ASC, id ASC`,
		[]any{utc(before)}, limit)
	return s.query(ctx, "list orders before", query, args...)
}

func (s *OrderStore) query(ctx context.Context, op, query string, args ...any) ([]domain.OrderRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.OrderRecord, error) {
	var (
		rec                      domain.OrderRecord
		side, status             string
		brokerID, clientID, errS *string
	)
	if err := row.Scan(&rec.ID, &rec.Timestamp, &rec.AgentID, &rec.Symbol, &side,
		&rec.NotionalUSD, &status, &brokerID, &clientID, &errS); err != nil {
		return rec, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Side = domain.OrderSide(side)
	rec.Status = domain.OrderStatus(status)
	rec.BrokerOrderID = derefText(brokerID)
	rec.ClientOrderID = derefText(clientID)
	rec.Error = derefText(errS)
	return rec, nil
}
