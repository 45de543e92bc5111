package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lists stored objects.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver copies aged rows from the database to cold storage.
type Archiver interface {
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
	ArchiveEquity(ctx context.Context, before time.Time) (int64, error)
	ArchiveMarketSnapshots(ctx context.Context, before time.Time) (int64, error)
}
