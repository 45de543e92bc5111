package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arena/internal/domain"
)

// AuditStore implements domain.AuditStore. Arena events (order_placed,
// agent_backoff, archive.<kind>) keep their detail as JSONB; the acting agent
// is lifted into its own column so per-agent history is an index scan.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one audit row.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := auditPayload(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}

	const query = `INSERT INTO audit_log (event, agent_id, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, event, nullText(domain.AuditAgent(detail)), payload); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditListQuery(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			agentID *string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &agentID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		e.AgentID = derefText(agentID)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: audit %d detail: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}

// auditPayload encodes detail for the JSONB column. Nil or empty detail is
// stored as NULL.
func auditPayload(detail map[string]any) ([]byte, error) {
	if len(detail) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("encode detail: %w", err)
	}
	return b, nil
}

// auditListQuery builds the filtered, paged SELECT for List. An Event ending
// in "." selects every event under that prefix.
func auditListQuery(opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	switch {
	case opts.Event == "":
	case strings.HasSuffix(opts.Event, "."):
		add("event LIKE $%d", likePrefix(opts.Event))
	default:
		add("event = $%d", opts.Event)
	}
	if opts.AgentID != "" {
		add("agent_id = $%d", opts.AgentID)
	}
	if opts.Since != nil {
		add("created_at >= $%d", utc(*opts.Since))
	}
	if opts.Until != nil {
		add("created_at <= $%d", utc(*opts.Until))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, event, agent_id, detail, created_at FROM audit_log`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")

	query, args := limitClause(b.String(), args, opts.Limit)
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// likePrefix escapes LIKE metacharacters in p and appends the wildcard.
func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}
