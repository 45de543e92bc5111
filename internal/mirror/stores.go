package mirror

import (
	"context"

	"github.com/alanyoungcy/arena/internal/domain"
)

// Orders mirrors every appended order.
type Orders struct {
	domain.OrderStore
	Sink *Sink
}

// Append stores rec in the primary store, then mirrors it with its row id.
func (s Orders) Append(ctx context.Context, rec domain.OrderRecord) (int64, error) {
	id, err := s.OrderStore.Append(ctx, rec)
	if err != nil {
		return id, err
	}
	rec.ID = id
	s.Sink.Emit(KindOrder, rec)
	return id, nil
}

// Fills mirrors each batch of reconciled fills.
type Fills struct {
	domain.FillStore
	Sink *Sink
}

// AppendBatch stores fills, then mirrors the batch when anything was new.
func (s Fills) AppendBatch(ctx context.Context, fills []domain.FillRecord) (int, error) {
	n, err := s.FillStore.AppendBatch(ctx, fills)
	if err != nil || n == 0 {
		return n, err
	}
	s.Sink.Emit(KindFill, fills)
	return n, nil
}

// Equity mirrors per-tick equity snapshots.
type Equity struct {
	domain.EquityStore
	Sink *Sink
}

// AppendBatch stores snaps, then mirrors them.
func (s Equity) AppendBatch(ctx context.Context, snaps []domain.EquitySnapshot) error {
	if err := s.EquityStore.AppendBatch(ctx, snaps); err != nil {
		return err
	}
	s.Sink.Emit(KindEquity, snaps)
	return nil
}

// Markets mirrors per-tick market snapshots.
type Markets struct {
	domain.MarketSnapshotStore
	Sink *Sink
}

// AppendBatch stores snaps, then mirrors them.
func (s Markets) AppendBatch(ctx context.Context, snaps []domain.MarketSnapshot) error {
	if err := s.MarketSnapshotStore.AppendBatch(ctx, snaps); err != nil {
		return err
	}
	s.Sink.Emit(KindMarket, snaps)
	return nil
}

var (
	_ domain.OrderStore          = Orders{}
	_ domain.FillStore           = Fills{}
	_ domain.EquityStore         = Equity{}
	_ domain.MarketSnapshotStore = Markets{}
)
