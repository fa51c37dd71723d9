package crawler

import (
	"context"
	"io"
	"time"
)

// ListingClient lists the immediate entries of a remote directory.
type ListingClient interface {
	List(ctx context.Context, path string) ([]Entry, error)
}

// Grouper partitions one directory's files into families. Implementations
// must be pure: the same input yields the same families.
type Grouper interface {
	Group(files []FileRecord) ([]Family, error)
}

// MessageQueue delivers batches of outbound items to an external queue.
type MessageQueue interface {
	// Provision creates (or resolves) the queue for a crawl and returns its id.
	Provision(ctx context.Context, crawlID string) (string, error)
	// SendBatch delivers items as one call. A *BatchError reports partial failure.
	SendBatch(ctx context.Context, queueID string, items []OutboundItem) error
	Close() error
}

// CrawlRegistry persists the CrawlRecord lifecycle.
type CrawlRegistry interface {
	Insert(ctx context.Context, record CrawlRecord) error
	Update(ctx context.Context, crawlID string, status CrawlStatus, endedOn time.Time) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
