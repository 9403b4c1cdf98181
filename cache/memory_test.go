package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundatio/cache"
	"foundatio/clock"
)

func TestBasicSetGet(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k1", "v1", cache.NoTTL))
	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetZeroTTLNeverObservable(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k1", "v1", 0))
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddReplace(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	added, err := c.Add(ctx, "k1", "v1", cache.NoTTL)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = c.Add(ctx, "k1", "v2", cache.NoTTL)
	require.NoError(t, err)
	assert.False(t, added)

	replaced, err := c.Replace(ctx, "k1", "v3", cache.NoTTL)
	require.NoError(t, err)
	assert.True(t, replaced)

	replaced, err = c.Replace(ctx, "nope", "v", cache.NoTTL)
	require.NoError(t, err)
	assert.False(t, replaced)
}

func TestTTLExpiryWithMockClock(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	c := cache.NewMemoryCache(cache.Options{ReapInterval: time.Millisecond}, mc)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k1", "v1", 10*time.Millisecond))
	_, ok, _ := c.Get(ctx, "k1")
	assert.True(t, ok)

	mc.Advance(20 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestItemExpiredListenerFiresForTTLNotExplicitRemove(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	c := cache.NewMemoryCache(cache.Options{ReapInterval: time.Millisecond}, mc)
	defer c.Close()

	var mu sync.Mutex
	var causes []cache.ExpirationCause
	c.OnItemExpired(func(key string, cause cache.ExpirationCause) {
		mu.Lock()
		causes = append(causes, cause)
		mu.Unlock()
	})

	require.NoError(t, c.Set(ctx, "expires", "v", 5*time.Millisecond))
	require.NoError(t, c.Set(ctx, "removed", "v", cache.NoTTL))

	_, _ = c.Remove(ctx, "removed")
	mc.Advance(50 * time.Millisecond)
	_, _, _ = c.Get(ctx, "expires")

	// Give the background reaper a chance; advancing the mock clock already
	// fires pending timer waiters synchronously.
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, cause := range causes {
		assert.Equal(t, cache.CauseTTL, cause)
	}
	assert.NotEmpty(t, causes)
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	c := cache.NewMemoryCache(cache.Options{MaxItems: 2, ReapInterval: time.Millisecond}, mc)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "old", "v", cache.NoTTL))
	mc.Advance(time.Second)
	_, _, _ = c.Get(ctx, "old") // touch to set lastAccess, still oldest insertion/staleness baseline

	mc.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "mid", "v", cache.NoTTL))
	mc.Advance(time.Second)
	require.NoError(t, c.Set(ctx, "new", "v", cache.NoTTL))

	// "old" is the least-recently-accessed/oldest entry and should be
	// evicted first to keep the cache at MaxItems==2.
	_, ok, _ := c.Get(ctx, "old")
	assert.False(t, ok, "least-recently-used entry should have been evicted")

	_, ok, _ = c.Get(ctx, "mid")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestIncrementDecrementConcurrent(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Increment(ctx, "counter", 1, cache.NoTTL)
		}()
	}
	wg.Wait()

	v, ok, err := c.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 100, v)
}

func TestSetIfHigherLower(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	v, err := c.SetIfHigher(ctx, "h", 10, cache.NoTTL)
	require.NoError(t, err)
	assert.EqualValues(t, 10, v)

	v, err = c.SetIfHigher(ctx, "h", 5, cache.NoTTL)
	require.NoError(t, err)
	assert.EqualValues(t, 10, v)

	v, err = c.SetIfHigher(ctx, "h", 20, cache.NoTTL)
	require.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func TestSetSemantics(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	added, err := c.SetAdd(ctx, "myset", []string{"a", "b", "c"}, cache.NoTTL)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = c.SetAdd(ctx, "myset", []string{"b", "d"}, cache.NoTTL)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	members, err := c.GetSet(ctx, "myset")
	require.NoError(t, err)
	assert.Len(t, members, 4)

	removed, err := c.SetRemove(ctx, "myset", []string{"a", "z"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRemoveByPrefix(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "tenant:1:user:1", "v", cache.NoTTL))
	require.NoError(t, c.Set(ctx, "tenant:1:user:2", "v", cache.NoTTL))
	require.NoError(t, c.Set(ctx, "tenant:2:user:1", "v", cache.NoTTL))

	n, err := c.RemoveByPrefix(ctx, "tenant:1:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := c.Get(ctx, "tenant:2:user:1")
	assert.True(t, ok)
}

func TestInvalidKey(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(cache.Options{}, nil)
	defer c.Close()

	err := c.Set(ctx, "", "v", cache.NoTTL)
	assert.ErrorIs(t, err, cache.ErrInvalidArgument)
}
