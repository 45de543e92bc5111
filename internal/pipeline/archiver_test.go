package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlob struct {
	cutoffs   []time.Time
	equityErr error
}

func (f *fakeBlob) ArchiveOrders(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func (f *fakeBlob) ArchiveEquity(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 0, f.equityErr
}

func (f *fakeBlob) ArchiveMarketSnapshots(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 7, nil
}

func TestArchiverRunContinuesPastFailures(t *testing.T) {
	blob := &fakeBlob{equityErr: errors.New("bucket gone")}
	a := NewArchiver(blob, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	res, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Equal(t, int64(3), res.Orders)
	assert.Equal(t, int64(7), res.Markets)

	require.Len(t, blob.cutoffs, 3)
	for _, c := range blob.cutoffs {
		assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), c)
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 3, 2, 15, 7, 30, 0, time.UTC) // Monday

	for _, tc := range []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 2, 15, 15, 0, 0, time.UTC)},
		{"30 9-16 * * 1-5", time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 0", time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)},
		{"8 15 2 3 *", time.Date(2026, 3, 2, 15, 8, 0, 0, time.UTC)},
	} {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseCron(tc.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* * * * 7", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}
