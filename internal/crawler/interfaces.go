package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrConflict signals that a conditional upsert lost a race against another
// writer for the same identity.
var ErrConflict = errors.New("record changed concurrently")

// ErrQueueClosed is returned by Dequeue once a queue has been shut down.
var ErrQueueClosed = errors.New("queue closed")

// StoreGateway persists records keyed by identity.
type StoreGateway interface {
	// LookupFingerprint returns the last stored fingerprint, or found=false.
	LookupFingerprint(ctx context.Context, identity string) (Fingerprint, bool, error)
	// Touch refreshes the freshness marker without rewriting the payload.
	Touch(ctx context.Context, identity string) error
	// Upsert writes payload, fingerprint and features and reports whether
	// the stored content changed.
	Upsert(ctx context.Context, req UpsertRequest) (bool, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Transport performs one HTTP GET attempt.
type Transport interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar). The event
// name travels alongside the JSON payload.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// CheckExpected compares what a writer read (expected) against the current
// stored state and returns ErrConflict when they diverge. A nil expected
// disables the check.
func CheckExpected(expected *Fingerprint, stored Fingerprint, found bool) error {
	if expected == nil {
		return nil
	}
	if *expected == "" {
		if found {
			return ErrConflict
		}
		return nil
	}
	if !found || stored != *expected {
		return ErrConflict
	}
	return nil
}
