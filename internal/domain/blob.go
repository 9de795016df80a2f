package domain

import (
	"context"
	"io"
)

// BlobWriter writes objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, body io.Reader, contentType string) error
}

// GroupArchiver snapshots formed groups to durable blob storage. Archival is
// best-effort and runs off the pooling critical path.
type GroupArchiver interface {
	ArchiveGroup(ctx context.Context, group DealGroup, members []Listing) error
}
