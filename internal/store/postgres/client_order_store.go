package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// ClientOrderStore implements domain.ClientOrderStore.
type ClientOrderStore struct {
	pool *pgxpool.Pool
}

// NewClientOrderStore creates a ClientOrderStore.
func NewClientOrderStore(pool *pgxpool.Pool) *ClientOrderStore {
	return &ClientOrderStore{pool: pool}
}

// Upsert records a mapping. An existing mapping keeps its agent; only the
// symbol may be refreshed.
func (s *ClientOrderStore) Upsert(ctx context.Context, m domain.ClientOrderMapping) error {
	const query = `
		INSERT INTO order_client_map (client_order_id, agent_id, symbol, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (client_order_id) DO UPDATE SET symbol = EXCLUDED.symbol
		WHERE order_client_map.agent_id = EXCLUDED.agent_id`

	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = utc(m.CreatedAt)
	}
	if _, err := s.pool.Exec(ctx, query, m.ClientOrderID, m.AgentID, m.Symbol, createdAt); err != nil {
		return fmt.Errorf("postgres: upsert client order %s: %w", m.ClientOrderID, err)
	}
	return nil
}

// Get returns the mapping for a client order id or domain.ErrNotFound.
func (s *ClientOrderStore) Get(ctx context.Context, clientOrderID string) (domain.ClientOrderMapping, error) {
	const query = `
		SELECT client_order_id, agent_id, symbol, created_at
		FROM order_client_map WHERE client_order_id = $1`

	var m domain.ClientOrderMapping
	err := s.pool.QueryRow(ctx, query, clientOrderID).
		Scan(&m.ClientOrderID, &m.AgentID, &m.Symbol, &m.CreatedAt)
	if err != nil {
		return m, notFound(err, "get client order "+clientOrderID)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
