package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves one URL with a single retrieval method.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// SchemeSupporter is implemented by fetchers limited to specific URL schemes.
// Fetchers that do not implement it are assumed to accept any URL.
type SchemeSupporter interface {
	Supports(rawURL string) bool
}

// HeadlessDetector decides whether a direct response is a JavaScript shell
// that a browser strategy should retry.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RetryPolicy decides whether a strategy try is repeated before falling through.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Policy gates fetches per domain (rate limiting).
type Policy interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ReportStore indexes persisted reports.
type ReportStore interface {
	StoreReport(ctx context.Context, record ReportRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
