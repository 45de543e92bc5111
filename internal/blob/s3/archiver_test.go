package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
	"github.com/alanyoungcy/arena/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, jsonlContentType)
}

func TestArchiveOrdersWritesJSONLAndAudits(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	cutoff := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{cutoff.Add(-2 * time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour)} {
		_, err := st.Orders().Append(ctx, domain.OrderRecord{
			Timestamp: ts, AgentID: "botA", Symbol: "AAPL", Side: domain.OrderSideBuy,
			NotionalUSD: float64(100 * (i + 1)), Status: domain.OrderStatusDryRun,
		})
		require.NoError(t, err)
	}

	w := &memWriter{}
	a := NewArchiver(w, st.Orders(), st.Equity(), st.Markets(), st.Audit())

	n, err := a.ArchiveOrders(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.objects["archive/orders/2026-03-02.jsonl"]
	require.True(t, ok)
	var lines []domain.OrderRecord
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec domain.OrderRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, 100.0, lines[0].NotionalUSD)

	entries, err := st.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.orders", entries[0].Event)
}

func TestArchiveNothingToDo(t *testing.T) {
	st := memstore.New()
	w := &memWriter{}
	a := NewArchiver(w, st.Orders(), st.Equity(), st.Markets(), st.Audit())

	n, err := a.ArchiveEquity(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveUploadFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Markets().AppendBatch(ctx, []domain.MarketSnapshot{
		{Symbol: "AAPL", Price: 190, ObservedAt: time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)},
	}))
	w := &memWriter{err: errors.New("access denied")}
	a := NewArchiver(w, st.Orders(), st.Equity(), st.Markets(), st.Audit())

	_, err := a.ArchiveMarketSnapshots(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)

	entries, _ := st.Audit().List(ctx, domain.ListOpts{})
	assert.Empty(t, entries)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
