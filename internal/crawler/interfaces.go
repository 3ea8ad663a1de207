package crawler

import (
	"context"
	"io"
	"time"
)

// Getter executes authenticated GET requests against the catalog API.
type Getter interface {
	Get(ctx context.Context, rawURL string) (Response, error)
}

// Authenticator acquires the credential used for a crawl run.
type Authenticator interface {
	Obtain(ctx context.Context) (Credential, error)
}

// Sink persists completed category snapshots. Save is called once per
// category; implementations must be safe for concurrent use when categories
// are crawled in parallel.
type Sink interface {
	Save(ctx context.Context, snapshot CategorySnapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snapshot CategorySnapshot) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, snapshot CategorySnapshot) error {
	return f(ctx, snapshot)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks on written artifacts.
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
