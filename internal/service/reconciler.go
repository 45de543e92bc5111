package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

// DefaultFillLookback is how far back the first reconciliation reaches when
// no checkpoint has been stored.
const DefaultFillLookback = 24 * time.Hour

// FillLister lists broker fill activity after a timestamp.
type FillLister interface {
	FillsSince(ctx context.Context, after time.Time) ([]domain.BrokerFill, error)
}

// SyncResult summarises one reconciliation pass.
type SyncResult struct {
	After      time.Time `json:"after"`
	Checkpoint time.Time `json:"checkpoint"`
	Fetched    int       `json:"fetched"`
	Recorded   int       `json:"recorded"`
	Skipped    int       `json:"skipped"`
	Unknown    int       `json:"unknown"`
}

// Reconciler pulls broker fills since the stored checkpoint, attributes each
// to the agent that placed it and advances the checkpoint. The checkpoint only
// moves forward, and only after the fills it covers are stored.
type Reconciler struct {
	broker      FillLister
	fills       domain.FillStore
	mappings    domain.ClientOrderStore
	checkpoints domain.CheckpointStore
	alerter     Alerter
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	broker FillLister,
	fills domain.FillStore,
	mappings domain.ClientOrderStore,
	checkpoints domain.CheckpointStore,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		broker:      broker,
		fills:       fills,
		mappings:    mappings,
		checkpoints: checkpoints,
		logger:      logger.With(slog.String("component", "reconciler")),
		now:         time.Now,
	}
}

// WithAlerter attaches an operator alert channel for persistence failures.
func (r *Reconciler) WithAlerter(a Alerter) *Reconciler {
	r.alerter = a
	return r
}

// Sync runs one reconciliation pass. On any error the stored checkpoint is
// left as it was so the same window is retried next time.
func (r *Reconciler) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	after, ok, err := r.checkpoints.GetCheckpoint(ctx)
	if err != nil {
		return res, fmt.Errorf("reconciler: read checkpoint: %w", err)
	}
	if !ok {
		after = r.now().Add(-DefaultFillLookback)
	}
	after = after.UTC()
	res.After, res.Checkpoint = after, after

	raw, err := r.broker.FillsSince(ctx, after)
	if err != nil {
		return res, fmt.Errorf("reconciler: list fills since %s: %w", after.Format(time.RFC3339), err)
	}
	res.Fetched = len(raw)

	maxSeen := after
	records := make([]domain.FillRecord, 0, len(raw))
	for _, f := range raw {
		ts, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(f.Time))
		if perr != nil {
			res.Skipped++
			r.logger.DebugContext(ctx, "reconciler: skipping fill with unparsable time",
				slog.String("activity_id", f.ActivityID),
				slog.String("time", f.Time),
			)
			continue
		}
		ts = ts.UTC()
		if ts.After(maxSeen) {
			maxSeen = ts
		}

		side, okSide := domain.ParseOrderSide(f.Side)
		if !okSide {
			res.Skipped++
			r.logger.WarnContext(ctx, "reconciler: skipping fill with unknown side",
				slog.String("activity_id", f.ActivityID),
				slog.String("side", f.Side),
			)
			continue
		}

		agentID, aerr := r.attribute(ctx, f.ClientOrderID)
		if aerr != nil {
			return res, fmt.Errorf("reconciler: attribute fill %s: %w", f.ActivityID, aerr)
		}
		if agentID == domain.UnknownAgent {
			res.Unknown++
		}

		records = append(records, domain.FillRecord{
			ActivityID:    f.ActivityID,
			Timestamp:     ts,
			AgentID:       agentID,
			Symbol:        strings.ToUpper(f.Symbol),
			Side:          side,
			Qty:           f.Qty,
			Price:         f.Price,
			OrderID:       f.OrderID,
			ClientOrderID: f.ClientOrderID,
		})
	}

	if len(records) > 0 {
		n, err := r.fills.AppendBatch(ctx, records)
		if err != nil {
			if r.alerter != nil {
				NotifyAsync(ctx, r.alerter, r.logger, "reconcile_error",
					"Fill reconciliation failed", err.Error())
			}
			return res, fmt.Errorf("reconciler: persist fills: %w", err)
		}
		res.Recorded = n
	}

	if err := r.checkpoints.SetCheckpoint(ctx, maxSeen); err != nil {
		return res, fmt.Errorf("reconciler: write checkpoint: %w", err)
	}
	res.Checkpoint = maxSeen

	if res.Fetched > 0 {
		r.logger.InfoContext(ctx, "reconciler: fills synced",
			slog.Int("fetched", res.Fetched),
			slog.Int("recorded", res.Recorded),
			slog.Int("unknown", res.Unknown),
			slog.Int("skipped", res.Skipped),
			slog.Time("checkpoint", maxSeen),
		)
	}
	return res, nil
}

// attribute resolves the agent behind a client order id. Only a missing id or
// a confirmed miss is unknown; lookup failures abort the pass.
func (r *Reconciler) attribute(ctx context.Context, clientOrderID string) (string, error) {
	if clientOrderID == "" {
		return domain.UnknownAgent, nil
	}
	m, err := r.mappings.Get(ctx, clientOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UnknownAgent, nil
		}
		r.logger.WarnContext(ctx, "reconciler: mapping lookup failed",
			slog.String("client_order_id", clientOrderID),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	return m.AgentID, nil
}
