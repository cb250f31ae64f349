package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReportArchiver copies a rendered tax report to cold storage and returns
// the object path it was written to.
type ReportArchiver interface {
	Archive(ctx context.Context, report *TaxReport, rendered []byte) (string, error)
}
