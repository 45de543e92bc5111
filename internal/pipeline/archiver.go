// Package pipeline runs background jobs that sit beside the tick loop.
// Today that is the cold-storage archiver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

// DefaultArchiveCron runs the archiver daily at 03:00 UTC.
const DefaultArchiveCron = "0 3 * * *"

// Archiver copies rows older than the retention window to cold storage.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// ArchiveResult counts rows exported by one run.
type ArchiveResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Orders  int64     `json:"orders"`
	Equity  int64     `json:"equity"`
	Markets int64     `json:"marketSnapshots"`
}

// NewArchiver creates an Archiver. retentionDays below 1 is treated as 1.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives every kind once. A failing kind does not stop the others;
// their errors are joined.
func (a *Archiver) Run(ctx context.Context) (ArchiveResult, error) {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	res := ArchiveResult{Cutoff: cutoff}
	a.logger.InfoContext(ctx, "archiver: run started",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var errs []error
	for _, step := range []struct {
		kind string
		fn   func(context.Context, time.Time) (int64, error)
		dst  *int64
	}{
		{"orders", a.blob.ArchiveOrders, &res.Orders},
		{"equity", a.blob.ArchiveEquity, &res.Equity},
		{"market_snapshots", a.blob.ArchiveMarketSnapshots, &res.Markets},
	} {
		n, err := step.fn(ctx, cutoff)
		*step.dst = n
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s before %s: %w", step.kind, cutoff.Format(time.RFC3339), err))
			continue
		}
	}

	a.logger.InfoContext(ctx, "archiver: run complete",
		slog.Int64("orders", res.Orders),
		slog.Int64("equity", res.Equity),
		slog.Int64("market_snapshots", res.Markets),
		slog.Int("errors", len(errs)),
	)
	return res, errors.Join(errs...)
}

// RunCron runs the archiver on a 5-field cron schedule (UTC) until ctx is
// done.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("archiver: cron %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archiver: cron started", slog.String("cron", expr))

	for {
		next, err := sched.Next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("archiver: cron %q: %w", expr, err)
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver: waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			}
		}
	}
}
