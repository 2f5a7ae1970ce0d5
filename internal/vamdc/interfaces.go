package vamdc

import (
	"context"
	"io"
	"time"
)

// Prober issues metadata-only calls.
type Prober interface {
	Probe(ctx context.Context, d QueryDescriptor) (SubQueryResult, error)
}

// Fetcher issues one full call returning headers and body together.
type Fetcher interface {
	Fetch(ctx context.Context, d QueryDescriptor) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Ledger records sub-query outcomes.
type Ledger interface {
	Record(ctx context.Context, requestID string, result SubQueryResult) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes payload digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request ids and fallback tokens.
type IDGenerator interface {
	NewID() (string, error)
}
