// Package cache implements the Cache capability surface: a
// size-aware, TTL-aware key/value store with atomic numeric operations,
// set semantics and prefix removal, plus an in-memory engine satisfying it
// directly. External backends (e.g. redis.go in this package) satisfy the
// same interface.
package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidArgument is returned synchronously for empty keys. TTL values
// are not validated. It is never retried.
var ErrInvalidArgument = errors.New("cache: invalid argument")

// ExpirationCause distinguishes why itemExpired fired. It never fires for
// explicit removal.
type ExpirationCause int

const (
	CauseTTL ExpirationCause = iota
	CauseCapacity
)

func (c ExpirationCause) String() string {
	switch c {
	case CauseTTL:
		return "ttl"
	case CauseCapacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// ExpiredListener is invoked when an entry leaves the cache due to TTL or
// capacity eviction. Listeners are invoked over a snapshot of the
// registered list, so a listener may safely register/deregister more
// listeners without deadlocking.
type ExpiredListener func(key string, cause ExpirationCause)

// Cache is the capability surface this package implements. All methods are safe
// to call from multiple concurrent goroutines. A ttl of NoTTL means "no
// expiration"; a ttl of exactly 0 means immediate expiry.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	GetMany(ctx context.Context, keys []string) (map[string]any, error)

	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Replace(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	SetAll(ctx context.Context, items map[string]any, ttl time.Duration) error

	Remove(ctx context.Context, key string) (bool, error)
	RemoveAll(ctx context.Context, keys []string) (int, error)
	RemoveByPrefix(ctx context.Context, prefix string) (int, error)

	Exists(ctx context.Context, key string) (bool, error)
	GetExpiration(ctx context.Context, key string) (time.Duration, bool, error)
	SetExpiration(ctx context.Context, key string, ttl time.Duration) error

	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	SetIfHigher(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
	SetIfLower(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)

	SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int, error)
	SetRemove(ctx context.Context, key string, members []string) (int, error)
	GetSet(ctx context.Context, key string) (map[string]struct{}, error)

	OnItemExpired(fn ExpiredListener)

	Close() error
}

// NoTTL means "never expires" when passed as a ttl argument. A ttl of
// exactly 0 is distinct: it means immediate expiry — the entry is never
// observable by a subsequent read.
const NoTTL time.Duration = -1
