package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"foundatio/cache"
	"foundatio/clock"
)

// ThrottleLockOptions configures ThrottleLockProvider.
type ThrottleLockOptions struct {
	// MaxHits caps how many successful acquires a resource may grant per
	// window.
	MaxHits int
	// Window is the fixed-window duration. The window is fixed, not
	// sliding: the counter resets on window boundaries computed from the
	// epoch, not from first-hit time, so concurrent callers across
	// processes agree on window edges without coordination.
	Window time.Duration
}

func (o ThrottleLockOptions) withDefaults() ThrottleLockOptions {
	if o.MaxHits <= 0 {
		o.MaxHits = 1
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	return o
}

// ThrottleLockProvider grants up to MaxHits acquisitions of a resource per
// fixed Window, using Cache.Increment against a window-bucketed key so the
// counter and its expiry are a single cache entry. It never blocks past
// Acquire's wait duration polling for the next window the way
// CacheLockProvider waits for a release notification — there is no
// "release" concept for a rate limit.
type ThrottleLockProvider struct {
	cache cache.Cache
	opts  ThrottleLockOptions
	clock clock.Clock
}

func NewThrottleLockProvider(c cache.Cache, opts ThrottleLockOptions, clk clock.Clock) *ThrottleLockProvider {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ThrottleLockProvider{cache: c, opts: opts.withDefaults(), clock: clk}
}

func (p *ThrottleLockProvider) windowKey(resource string) (string, time.Duration) {
	now := p.clock.Now()
	window := p.opts.Window
	bucket := now.UnixNano() / int64(window)
	remaining := window - time.Duration(now.UnixNano()%int64(window))
	return fmt.Sprintf("throttle:%s:%d", resource, bucket), remaining
}

type throttleHandle struct {
	resource string
}

func (h *throttleHandle) Resource() string                 { return h.resource }
func (h *throttleHandle) Release(ctx context.Context) error { return nil }
func (h *throttleHandle) Renew(ctx context.Context) error   { return nil }

func (p *ThrottleLockProvider) TryAcquire(ctx context.Context, resource string) (Handle, error) {
	key, remaining := p.windowKey(resource)
	count, err := p.cache.Increment(ctx, key, 1, remaining)
	if err != nil {
		return nil, errors.Wrap(err, "lock: throttle increment")
	}
	if count > int64(p.opts.MaxHits) {
		return nil, nil
	}
	return &throttleHandle{resource: resource}, nil
}

func (p *ThrottleLockProvider) IsLocked(ctx context.Context, resource string) (bool, error) {
	key, _ := p.windowKey(resource)
	v, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		return false, errors.Wrap(err, "lock: throttle is locked")
	}
	if !ok {
		return false, nil
	}
	count := int64(0)
	switch t := v.(type) {
	case int64:
		count = t
	case int:
		count = int64(t)
	}
	return count >= int64(p.opts.MaxHits), nil
}

func (p *ThrottleLockProvider) Acquire(ctx context.Context, resource string, wait time.Duration) (Handle, error) {
	if h, err := p.TryAcquire(ctx, resource); err != nil {
		return nil, err
	} else if h != nil {
		return h, nil
	}
	if wait <= 0 {
		return nil, ErrLockTimeout
	}

	deadline := p.clock.Now().Add(wait)
	for {
		_, remaining := p.windowKey(resource)
		sleep := remaining
		if d := deadline.Sub(p.clock.Now()); d < sleep {
			sleep = d
		}
		if sleep <= 0 {
			return nil, ErrLockTimeout
		}
		if !p.clock.Sleep(sleep, ctx.Done()) {
			return nil, errors.Wrap(ctx.Err(), "lock: throttle acquire cancelled")
		}
		if h, err := p.TryAcquire(ctx, resource); err != nil {
			return nil, err
		} else if h != nil {
			return h, nil
		}
		if p.clock.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
	}
}
