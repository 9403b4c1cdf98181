package lock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foundatio/cache"
	"foundatio/clock"
	"foundatio/messaging"
)

var logger = logrus.WithFields(logrus.Fields{"component": "lock"})

// releasedEvent is published on the bus whenever a lock is released
// through its Handle, so blocked Acquire callers wake immediately instead
// of waiting out a full poll interval. A lease that simply expires
// publishes nothing; waiters notice it on their next poll.
type releasedEvent struct {
	Resource string
}

func lockKey(resource string) string {
	return "lock:" + resource
}

// CacheLockOptions configures CacheLockProvider.
type CacheLockOptions struct {
	// LockDuration is the lease length granted on acquire and renew.
	LockDuration time.Duration
	// RetryInterval bounds how long Acquire polls between attempts when
	// it misses a release notification (e.g. provider started after the
	// notification already fired).
	RetryInterval time.Duration
}

func (o CacheLockOptions) withDefaults() CacheLockOptions {
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	return o
}

// CacheLockProvider is a cache-backed distributed lock: Acquire races to
// Cache.Add a unique token under the resource's
// key, and Release publishes a releasedEvent so other waiters retry
// immediately rather than on the next poll tick.
type CacheLockProvider struct {
	cache cache.Cache
	bus   messaging.MessageBus
	opts  CacheLockOptions
	clock clock.Clock
}

func NewCacheLockProvider(c cache.Cache, bus messaging.MessageBus, opts CacheLockOptions, clk clock.Clock) *CacheLockProvider {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CacheLockProvider{cache: c, bus: bus, opts: opts.withDefaults(), clock: clk}
}

type cacheHandle struct {
	provider *CacheLockProvider
	resource string
	token    string
}

func (h *cacheHandle) Resource() string { return h.resource }

func (h *cacheHandle) Release(ctx context.Context) error {
	current, ok, err := h.provider.cache.Get(ctx, lockKey(h.resource))
	if err != nil {
		return errors.Wrap(err, "lock: release get")
	}
	if !ok {
		return nil // already expired, nothing to do
	}
	if current != h.token {
		return ErrNotOwner
	}
	if _, err := h.provider.cache.Remove(ctx, lockKey(h.resource)); err != nil {
		return errors.Wrap(err, "lock: release remove")
	}
	if h.provider.bus != nil {
		_ = h.provider.bus.Publish(ctx, releasedEvent{Resource: h.resource}, messaging.PublishOptions{})
	}
	return nil
}

func (h *cacheHandle) Renew(ctx context.Context) error {
	current, ok, err := h.provider.cache.Get(ctx, lockKey(h.resource))
	if err != nil {
		return errors.Wrap(err, "lock: renew get")
	}
	if !ok || current != h.token {
		return ErrNotOwner
	}
	if err := h.provider.cache.SetExpiration(ctx, lockKey(h.resource), h.provider.opts.LockDuration); err != nil {
		return errors.Wrap(err, "lock: renew")
	}
	return nil
}

func (p *CacheLockProvider) TryAcquire(ctx context.Context, resource string) (Handle, error) {
	token := uuid.NewString()
	ok, err := p.cache.Add(ctx, lockKey(resource), token, p.opts.LockDuration)
	if err != nil {
		return nil, errors.Wrap(err, "lock: try acquire")
	}
	if !ok {
		return nil, nil
	}
	return &cacheHandle{provider: p, resource: resource, token: token}, nil
}

func (p *CacheLockProvider) IsLocked(ctx context.Context, resource string) (bool, error) {
	ok, err := p.cache.Exists(ctx, lockKey(resource))
	if err != nil {
		return false, errors.Wrap(err, "lock: is locked")
	}
	return ok, nil
}

func (p *CacheLockProvider) Acquire(ctx context.Context, resource string, wait time.Duration) (Handle, error) {
	if h, err := p.TryAcquire(ctx, resource); err != nil {
		return nil, err
	} else if h != nil {
		return h, nil
	}
	if wait <= 0 {
		return nil, ErrLockTimeout
	}

	deadline := p.clock.Now().Add(wait)

	var wake chan struct{}
	var sub messaging.Subscription
	if p.bus != nil {
		wake = make(chan struct{}, 1)
		s, err := p.bus.Subscribe(ctx, releasedEvent{}, func(ctx context.Context, msg messaging.Message) error {
			if ev, ok := msg.Body.(releasedEvent); ok && ev.Resource == resource {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
			return nil
		}, messaging.SubscribeOptions{})
		if err == nil {
			sub = s
			defer sub.Close()
		} else {
			logger.WithError(err).Warn("could not subscribe to lock release notifications, falling back to polling")
		}
	}

	timer := p.clock.NewTimer(p.opts.RetryInterval)
	defer timer.Stop()

	for {
		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "lock: acquire cancelled")
		case <-timer.Chan():
			timer.Reset(p.opts.RetryInterval)
		case <-wake:
		}

		if h, err := p.TryAcquire(ctx, resource); err != nil {
			return nil, err
		} else if h != nil {
			return h, nil
		}
	}
}

