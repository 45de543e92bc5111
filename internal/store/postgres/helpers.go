package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/arena/internal/domain"
)

// nullText stores empty strings as NULL.
func nullText(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func derefText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// notFound maps pgx.ErrNoRows to domain.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s: %w", what, err)
}

// limitClause appends "LIMIT $n" when limit is positive.
func limitClause(query string, args []any, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	args = append(args, limit)
	return query + fmt.Sprintf(" LIMIT $%d", len(args)), args
}

func utc(t time.Time) time.Time { return t.UTC() }
