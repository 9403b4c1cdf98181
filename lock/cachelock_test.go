package lock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundatio/cache"
	"foundatio/clock"
	"foundatio/lock"
	"foundatio/messaging"
)

func TestCacheLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	provider := lock.NewCacheLockProvider(c, bus, lock.CacheLockOptions{LockDuration: time.Second}, nil)

	h1, err := provider.TryAcquire(ctx, "resource-a")
	require.NoError(t, err)
	require.NotNil(t, h1)

	h2, err := provider.TryAcquire(ctx, "resource-a")
	require.NoError(t, err)
	assert.Nil(t, h2, "second acquire of a held lock must fail")

	require.NoError(t, h1.Release(ctx))

	h3, err := provider.TryAcquire(ctx, "resource-a")
	require.NoError(t, err)
	assert.NotNil(t, h3, "lock should be acquirable again after release")
}

func TestCacheLockAcquireWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	provider := lock.NewCacheLockProvider(c, bus, lock.CacheLockOptions{LockDuration: 10 * time.Second, RetryInterval: 10 * time.Millisecond}, nil)

	h1, err := provider.TryAcquire(ctx, "resource-b")
	require.NoError(t, err)
	require.NotNil(t, h1)

	var acquired int32
	done := make(chan struct{})
	go func() {
		h2, err := provider.Acquire(ctx, "resource-b", 2*time.Second)
		if err == nil && h2 != nil {
			atomic.StoreInt32(&acquired, 1)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h1.Release(ctx))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&acquired))
}

func TestCacheLockRenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	c := cache.NewMemoryCache(cache.Options{ReapInterval: time.Millisecond}, mc)
	defer c.Close()

	provider := lock.NewCacheLockProvider(c, nil, lock.CacheLockOptions{LockDuration: 50 * time.Millisecond}, mc)

	h, err := provider.TryAcquire(ctx, "resource-c")
	require.NoError(t, err)
	require.NotNil(t, h)

	mc.Advance(30 * time.Millisecond)
	require.NoError(t, h.Renew(ctx))

	mc.Advance(30 * time.Millisecond)
	locked, err := provider.IsLocked(ctx, "resource-c")
	require.NoError(t, err)
	assert.True(t, locked, "renewed lock should still be held after original lease would have expired")
}

func TestThrottleLockFixedWindow(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Unix(0, 0))
	c := cache.NewMemoryCache(cache.Options{ReapInterval: time.Millisecond}, mc)
	defer c.Close()

	provider := lock.NewThrottleLockProvider(c, lock.ThrottleLockOptions{MaxHits: 2, Window: time.Second}, mc)

	h1, err := provider.TryAcquire(ctx, "api-key-1")
	require.NoError(t, err)
	assert.NotNil(t, h1)

	h2, err := provider.TryAcquire(ctx, "api-key-1")
	require.NoError(t, err)
	assert.NotNil(t, h2)

	h3, err := provider.TryAcquire(ctx, "api-key-1")
	require.NoError(t, err)
	assert.Nil(t, h3, "third acquire within the window should be throttled")

	mc.Advance(2 * time.Second)
	h4, err := provider.TryAcquire(ctx, "api-key-1")
	require.NoError(t, err)
	assert.NotNil(t, h4, "next window should allow acquisition again")
}
