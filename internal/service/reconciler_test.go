package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconcilerFixture(now time.Time) (*Reconciler, *memstore.Store, *fakeBroker) {
	st := memstore.New()
	b := &fakeBroker{}
	r := NewReconciler(b, st.Fills(), st.ClientOrders(), st.Checkpoints(), discardLogger())
	r.now = func() time.Time { return now }
	return r, st, b
}

func TestSyncDefaultsToLookback(t *testing.T) {
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	r, st, b := newReconcilerFixture(now)

	res, err := r.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, b.afters, 1)
	assert.Equal(t, now.Add(-24*time.Hour), b.afters[0])

	ckpt, ok, err := st.Checkpoints().GetCheckpoint(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Add(-24*time.Hour), ckpt, "nothing new keeps the original after value")
	assert.Equal(t, ckpt, res.Checkpoint)
}

func TestSyncAttributesAndAdvances(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	r, st, b := newReconcilerFixture(now)
	require.NoError(t, st.ClientOrders().Upsert(ctx, domain.ClientOrderMapping{
		ClientOrderID: "botA-1-abc", AgentID: "botA", Symbol: "AAPL",
	}))

	b.fills = []domain.BrokerFill{
		{ActivityID: "a1", Time: "2026-03-02T15:00:00Z", Symbol: "AAPL", Side: "buy", Qty: 2, Price: 100, ClientOrderID: "botA-1-abc"},
		{ActivityID: "a2", Time: "not-a-time", Symbol: "AAPL", Side: "buy", Qty: 1, Price: 100},
		{ActivityID: "a3", Time: "2026-03-02T15:30:00.123Z", Symbol: "msft", Side: "sell", Qty: 1, Price: 400, ClientOrderID: "manual-1"},
		{ActivityID: "a4", Time: "2026-03-02T15:10:00Z", Symbol: "AAPL", Side: "sell", Qty: 1, Price: 101},
	}

	res, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 3, res.Recorded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Unknown)

	fills, err := st.Fills().ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.Equal(t, "botA", fills[0].AgentID)
	assert.Equal(t, domain.UnknownAgent, fills[1].AgentID, "no client id")
	assert.Equal(t, domain.UnknownAgent, fills[2].AgentID, "unmapped client id")
	assert.Equal(t, "MSFT", fills[2].Symbol)

	ckpt, _, _ := st.Checkpoints().GetCheckpoint(ctx)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 30, 0, 123e6, time.UTC), ckpt)

	// Re-delivery at the watermark is absorbed by activity id.
	b.fills = b.fills[2:3]
	res, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Recorded)
	assert.Equal(t, ckpt, b.afters[1])
}

func TestSyncFetchFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	r, st, b := newReconcilerFixture(now)
	prior := now.Add(-time.Hour)
	require.NoError(t, st.Checkpoints().SetCheckpoint(ctx, prior))

	b.fillsErr = errors.New("503 service unavailable")
	_, err := r.Sync(ctx)
	require.Error(t, err)

	ckpt, _, _ := st.Checkpoints().GetCheckpoint(ctx)
	assert.Equal(t, prior, ckpt)

	b.fillsErr = nil
	_, err = r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, prior, b.afters[1], "same window retried")
}

// flakyClientOrders fails lookups while err is set.
type flakyClientOrders struct {
	domain.ClientOrderStore
	err error
}

func (f *flakyClientOrders) Get(ctx context.Context, id string) (domain.ClientOrderMapping, error) {
	if f.err != nil {
		return domain.ClientOrderMapping{}, f.err
	}
	return f.ClientOrderStore.Get(ctx, id)
}

func TestSyncMappingLookupFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	st := memstore.New()
	b := &fakeBroker{}
	mappings := &flakyClientOrders{ClientOrderStore: st.ClientOrders(), err: errors.New("connection reset")}
	r := NewReconciler(b, st.Fills(), mappings, st.Checkpoints(), discardLogger())
	r.now = func() time.Time { return now }

	prior := now.Add(-time.Hour)
	require.NoError(t, st.Checkpoints().SetCheckpoint(ctx, prior))
	require.NoError(t, st.ClientOrders().Upsert(ctx, domain.ClientOrderMapping{
		ClientOrderID: "botA-1-abc", AgentID: "botA", Symbol: "AAPL",
	}))
	b.fills = []domain.BrokerFill{
		{ActivityID: "a1", Time: "2026-03-02T15:30:00Z", Symbol: "AAPL", Side: "buy", Qty: 1, Price: 100, ClientOrderID: "botA-1-abc"},
	}

	_, err := r.Sync(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")

	ckpt, _, _ := st.Checkpoints().GetCheckpoint(ctx)
	assert.Equal(t, prior, ckpt, "checkpoint must not advance past unattributed fills")
	stored, err := st.Fills().ListOrdered(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	mappings.err = nil
	res, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Unknown)
	assert.Equal(t, prior, b.afters[1], "same window retried")

	stored, err = st.Fills().ListOrdered(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "botA", stored[0].AgentID)
}

func TestSyncCheckpointMonotonic(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	r, st, b := newReconcilerFixture(now)
	rng := rand.New(rand.NewSource(42))

	var last time.Time
	for i := 0; i < 50; i++ {
		b.fills = nil
		b.fillsErr = nil
		if rng.Intn(5) == 0 {
			b.fillsErr = errors.New("flaky")
		}
		for j := rng.Intn(4); j > 0; j-- {
			at := now.Add(time.Duration(rng.Intn(96)-72) * time.Hour)
			b.fills = append(b.fills, domain.BrokerFill{
				Time: at.Format(time.RFC3339), Symbol: "AAPL", Side: "buy", Qty: 1, Price: 1,
			})
		}
		_, _ = r.Sync(ctx)

		ckpt, ok, err := st.Checkpoints().GetCheckpoint(ctx)
		require.NoError(t, err)
		if ok {
			assert.False(t, ckpt.Before(last), "iteration %d", i)
			last = ckpt
		}
	}
}
