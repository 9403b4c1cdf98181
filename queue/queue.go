// Package queue implements a reliable work queue: durable
// enqueue/dequeue with leased in-flight ownership, retry with backoff, and
// dead-lettering once a payload exhausts its retries. Delivery is
// at-least-once — a leased item that is never completed or abandoned
// before its lease expires is returned to circulation automatically.
package queue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned by Complete/Abandon/Renew when the id is not a
// currently leased entry (already completed, already timed out and
// recycled, or never existed).
var ErrNotFound = errors.New("queue: entry not found or not leased")

// Entry is one leased unit of work, returned by Dequeue.
type Entry struct {
	ID       string
	Payload  any
	Attempts int

	EnqueuedAt     time.Time
	LeaseExpiresAt time.Time
}

// Stats is a point-in-time snapshot of queue depth across its four lists.
type Stats struct {
	Enqueued     int64
	Dequeued     int64
	Completed    int64
	Abandoned    int64
	DeadLettered int64

	Waiting    int
	Working    int
	Deferred   int
	DeadLetter int
}

// Queue is the capability surface this package implements.
type Queue interface {
	// Enqueue adds payload to the queue, returning its assigned id.
	Enqueue(ctx context.Context, payload any) (string, error)

	// Dequeue leases the next available entry, waiting up to waitTimeout
	// for one to become available. A zero waitTimeout means "return
	// immediately if nothing is available" (entry will be nil).
	Dequeue(ctx context.Context, waitTimeout time.Duration) (*Entry, error)

	// Complete marks a leased entry done, removing it permanently.
	Complete(ctx context.Context, id string) error

	// Abandon releases a leased entry back for retry. If the entry has
	// exhausted its retry budget it is moved to the dead letter list
	// instead of being redelivered.
	Abandon(ctx context.Context, id string) error

	// Renew extends a leased entry's lease, used by long-running work-item
	// handlers that are still making progress.
	Renew(ctx context.Context, id string, extension time.Duration) error

	Stats(ctx context.Context) (Stats, error)

	Close() error
}
