package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type brokenBus struct{ *LocalBus }

func (b *brokenBus) StreamAppend(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func TestOrdersMirrorAfterPrimaryWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewLocalBus(10)
	live, err := bus.Subscribe(ctx, "arena:*")
	require.NoError(t, err)

	sink := NewSink(bus, Config{}, discardLogger())
	go func() { _ = sink.Run(ctx) }()

	st := memstore.New()
	orders := Orders{OrderStore: st.Orders(), Sink: sink}
	id, err := orders.Append(ctx, domain.OrderRecord{
		Timestamp: time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC),
		AgentID:   "botA", Symbol: "AAPL", Side: domain.OrderSideBuy,
		NotionalUSD: 100, Status: domain.OrderStatusDryRun,
	})
	require.NoError(t, err)
	require.Len(t, st.Orders().All(), 1)

	select {
	case payload := <-live:
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		assert.Equal(t, KindOrder, env.Kind)
		var row domain.OrderRecord
		require.NoError(t, json.Unmarshal(env.Data, &row))
		assert.Equal(t, id, row.ID)
		assert.Equal(t, domain.OrderStatusDryRun, row.Status)
	case <-time.After(time.Second):
		t.Fatal("order was not published")
	}

	msgs, err := bus.StreamRead(ctx, DefaultStream, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestBusFailureNeverReachesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := NewSink(&brokenBus{NewLocalBus(10)}, Config{}, discardLogger())
	go func() { _ = sink.Run(ctx) }()

	st := memstore.New()
	eq := Equity{EquityStore: st.Equity(), Sink: sink}
	require.NoError(t, eq.AppendBatch(ctx, []domain.EquitySnapshot{{AgentID: "botA", EquityUSD: 10000}}))
	assert.Len(t, st.Equity().All(), 1)

	assert.Eventually(t, func() bool { return sink.Failed() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFullQueueDrops(t *testing.T) {
	sink := NewSink(NewLocalBus(10), Config{Buffer: 2}, discardLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Publish(context.Background(), "arena:tick", []byte("{}")))
	}
	assert.Equal(t, int64(3), sink.Dropped())
}

func TestFillsMirrorOnlyWhenNew(t *testing.T) {
	sink := NewSink(NewLocalBus(10), Config{Buffer: 4}, discardLogger())
	st := memstore.New()
	fills := Fills{FillStore: st.Fills(), Sink: sink}
	batch := []domain.FillRecord{{ActivityID: "a1", AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1, Price: 100}}

	n, err := fills.AppendBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.queue, 1)

	n, err = fills.AppendBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.queue, 1, "duplicate batch is not mirrored")
}

func TestLocalBusStreamTrimsAndPages(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte{byte(i)}))
	}

	msgs, err := bus.StreamRead(ctx, "s", "0", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte{2}, msgs[0].Payload)

	next, err := bus.StreamRead(ctx, "s", msgs[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, []byte{3}, next[0].Payload)

	_, err = bus.StreamRead(ctx, "s", "x", 1)
	assert.Error(t, err)
}
