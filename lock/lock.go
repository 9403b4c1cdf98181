// Package lock implements a distributed lock provider: a
// cache-backed mutex with release notifications over a message bus, plus a
// fixed-window throttling variant.
package lock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrLockTimeout is returned when Acquire's wait duration elapses without
// obtaining the lock.
var ErrLockTimeout = errors.New("lock: timed out waiting to acquire")

// ErrNotOwner is returned by Release/Renew when the caller's Handle no
// longer owns the lock (it already expired or was released/stolen).
// CacheLockProvider's Release is the exception for a lock whose key is
// gone (expired or already released): it returns nil in that case.
var ErrNotOwner = errors.New("lock: not owner")

// Handle represents one acquired lock. It must be released by the
// acquirer; it is not safe to share across goroutines.
type Handle interface {
	// Resource is the name of the locked resource.
	Resource() string
	// Release gives up the lock before its lease expires.
	Release(ctx context.Context) error
	// Renew extends the lease by the provider's configured lock duration.
	Renew(ctx context.Context) error
}

// Provider grants mutually-exclusive ownership of a named resource.
type Provider interface {
	// Acquire blocks until the lock is obtained, ctx is cancelled, or wait
	// elapses (wait <= 0 means "try once, don't wait").
	Acquire(ctx context.Context, resource string, wait time.Duration) (Handle, error)
	// TryAcquire attempts to obtain the lock exactly once, returning
	// (nil, nil) if it is currently held by someone else.
	TryAcquire(ctx context.Context, resource string) (Handle, error)
	// IsLocked reports whether resource is currently held by anyone.
	IsLocked(ctx context.Context, resource string) (bool, error)
}
