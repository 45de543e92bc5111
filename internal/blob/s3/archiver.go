package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arena/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// OrderLister, EquityLister and MarketLister are the read slices of the
// stores the archiver needs.
type (
	OrderLister interface {
		ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.OrderRecord, error)
	}
	EquityLister interface {
		ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.EquitySnapshot, error)
	}
	MarketLister interface {
		ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.MarketSnapshot, error)
	}
)

// ArchiveImpl implements domain.Archiver. Rows older than the cutoff are
// written as one JSONL object per kind and cutoff day, and the run is
// recorded in the audit log. Rows are never deleted from the database.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	orders  OrderLister
	equity  EquityLister
	markets MarketLister
	audit   domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	orders OrderLister,
	equity EquityLister,
	markets MarketLister,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		orders:  orders,
		equity:  equity,
		markets: markets,
		audit:   audit,
	}
}

// ArchiveOrders exports orders placed before the cutoff.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.orders.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, rows)
}

// ArchiveEquity exports equity snapshots taken before the cutoff.
func (a *ArchiveImpl) ArchiveEquity(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.equity.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive equity query: %w", err)
	}
	return archive(ctx, a, "equity", before, rows)
}

// ArchiveMarketSnapshots exports market snapshots observed before the cutoff.
func (a *ArchiveImpl) ArchiveMarketSnapshots(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.markets.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive market snapshots query: %w", err)
	}
	return archive(ctx, a, "market_snapshots", before, rows)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := ArchivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.AuditArchivePrefix+kind, map[string]any{
			"path":   path,
			"count":  count,
			"bytes":  len(buf),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit: %w", kind, err)
		}
	}
	return count, nil
}

// ArchivePath is the object key for one kind and cutoff day, e.g.
// archive/orders/2026-03-02.jsonl.
func ArchivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
