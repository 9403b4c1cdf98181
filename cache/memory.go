package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"foundatio/clock"
)

var logger = logrus.WithFields(logrus.Fields{"component": "cache"})

// SizeFunc estimates the storage weight of a value for size-aware
// eviction. The default understands []byte and string; anything else
// contributes 0, meaning MaxMemoryBytes only bites on byte/string-heavy
// workloads unless a custom SizeFunc is supplied.
type SizeFunc func(v any) int64

func defaultSizeFunc(v any) int64 {
	switch t := v.(type) {
	case []byte:
		return int64(len(t))
	case string:
		return int64(len(t))
	default:
		return 0
	}
}

// MemoryCache is the in-memory cache engine: a concurrent
// key/value map with lazy + proactive TTL reaping, size-aware eviction and
// atomic numeric/set operations under per-entry locks.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	// prefixIndex accelerates RemoveByPrefix: keys are bucketed under every
	// prefix of themselves that ends right after a ':' boundary (plus the
	// empty-string bucket, which holds every key). RemoveByPrefix looks up
	// the longest indexed boundary prefix contained in the requested
	// prefix, then filters that (much smaller) bucket exactly.
	prefixIndex map[string]map[string]struct{}

	opts     Options
	sizeFunc SizeFunc
	clock    clock.Clock

	totalSize int64 // atomic
	stats     Stats

	listenersMu sync.Mutex
	listeners   []ExpiredListener

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewMemoryCache constructs an in-memory Cache. clk may be nil to use the
// real wall clock.
func NewMemoryCache(opts Options, clk clock.Clock) *MemoryCache {
	opts = opts.withDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	c := &MemoryCache{
		entries:     make(map[string]*entry),
		prefixIndex: map[string]map[string]struct{}{"": {}},
		opts:        opts,
		sizeFunc:    defaultSizeFunc,
		clock:       clk,
		closeCh:     make(chan struct{}),
	}
	go c.reapLoop()
	return c
}

// SetSizeFunc overrides how entry sizes are estimated for eviction.
func (c *MemoryCache) SetSizeFunc(f SizeFunc) {
	if f != nil {
		c.sizeFunc = f
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return nil
}

// boundaryPrefixes returns every prefix of key that ends immediately after
// a ':' character, plus the empty prefix.
func boundaryPrefixes(key string) []string {
	prefixes := []string{""}
	for i, r := range key {
		if r == ':' {
			prefixes = append(prefixes, key[:i+1])
		}
	}
	return prefixes
}

func (c *MemoryCache) indexInsertLocked(key string) {
	for _, p := range boundaryPrefixes(key) {
		bucket, ok := c.prefixIndex[p]
		if !ok {
			bucket = make(map[string]struct{})
			c.prefixIndex[p] = bucket
		}
		bucket[key] = struct{}{}
	}
}

func (c *MemoryCache) indexRemoveLocked(key string) {
	for _, p := range boundaryPrefixes(key) {
		if bucket, ok := c.prefixIndex[p]; ok {
			delete(bucket, key)
		}
	}
}

// longestIndexedBoundary returns the longest boundary prefix of `prefix`
// itself (i.e. the largest already-indexed bucket name that `prefix`
// extends), so RemoveByPrefix can scan that bucket instead of every key.
func (c *MemoryCache) longestIndexedBoundary(prefix string) string {
	best := ""
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] == ':' {
			candidate := prefix[:i+1]
			if _, ok := c.prefixIndex[candidate]; ok {
				return candidate
			}
		}
	}
	return best
}

// --- removal & eviction plumbing -----------------------------------------

// removeLocked deletes key from entries and the prefix index, updates
// totalSize, and returns the removed entry (nil if key was absent). It does
// not fire expired listeners; callers that need that call fireExpired after
// releasing the lock. Caller must hold c.mu for writing.
func (c *MemoryCache) removeLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	delete(c.entries, key)
	c.indexRemoveLocked(key)
	atomic.AddInt64(&c.totalSize, -e.sizeBytes)
	return e
}

func (c *MemoryCache) fireExpired(key string, cause ExpirationCause) {
	c.listenersMu.Lock()
	snapshot := make([]ExpiredListener, len(c.listeners))
	copy(snapshot, c.listeners)
	c.listenersMu.Unlock()

	for _, fn := range snapshot {
		fn(key, cause)
	}
}

func (c *MemoryCache) OnItemExpired(fn ExpiredListener) {
	if fn == nil {
		return
	}
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// getLiveLocked returns the entry for key if present and not expired. If
// present but expired, it removes it (lazy reap) and returns nil, true so
// the caller knows to fire a TTL expiration after releasing the lock.
func (c *MemoryCache) getLiveLocked(key string, now time.Time) (e *entry, reaped bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.isExpiredLocked(now) {
		c.removeLocked(key)
		return nil, true
	}
	return e, false
}

// --- Cache interface ------------------------------------------------------

func (c *MemoryCache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()

	if reaped {
		c.fireExpired(key, CauseTTL)
		c.stats.recordMiss()
		return nil, false, nil
	}
	if e == nil {
		c.stats.recordMiss()
		return nil, false, nil
	}

	e.mu.Lock()
	e.lastAccess = now
	val := e.value
	isSet := e.set != nil
	e.mu.Unlock()

	if isSet {
		c.stats.recordMiss()
		return nil, false, nil
	}
	c.stats.recordHit()
	return val, true, nil
}

func (c *MemoryCache) GetMany(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := c.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *MemoryCache) upsert(key string, value any, ttl time.Duration, now time.Time) *entry {
	size := c.sizeFunc(value)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, insertionTime: now}
		c.entries[key] = e
		c.indexInsertLocked(key)
	}
	c.mu.Unlock()

	e.mu.Lock()
	atomic.AddInt64(&c.totalSize, size-e.sizeBytes)
	e.value = value
	e.sizeBytes = size
	e.set = nil
	e.lastAccess = now
	if ttl == NoTTL {
		e.hasExpiry = false
	} else {
		e.hasExpiry = true
		e.expiresAt = now.Add(ttl)
	}
	e.mu.Unlock()

	return e
}

func (c *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	now := c.clock.Now()
	c.upsert(key, value, ttl, now)
	c.stats.recordSet()

	if ttl == 0 {
		// Immediate expiry: never observable by a subsequent read.
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return nil
	}

	c.enforceLimits()
	return nil
}

func (c *MemoryCache) Add(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	if e, reaped := c.getLiveLocked(key, now); e != nil || reaped {
		c.mu.Unlock()
		if reaped {
			c.fireExpired(key, CauseTTL)
		}
		if e != nil {
			return false, nil
		}
	} else {
		c.mu.Unlock()
	}

	// Re-check-and-insert: between the check above and here another
	// goroutine could have inserted key. upsert would clobber it, so guard
	// with a second locked check-and-create in one critical section.
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.isExpiredLocked(c.clock.Now()) {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	c.upsert(key, value, ttl, now)
	if ttl == 0 {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return true, nil
	}
	c.enforceLimits()
	return true, nil
}

func (c *MemoryCache) Replace(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	if e == nil {
		return false, nil
	}

	c.upsert(key, value, ttl, now)
	if ttl == 0 {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
	} else {
		c.enforceLimits()
	}
	return true, nil
}

func (c *MemoryCache) SetAll(ctx context.Context, items map[string]any, ttl time.Duration) error {
	for k, v := range items {
		if err := c.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (c *MemoryCache) Remove(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	e := c.removeLocked(key)
	c.mu.Unlock()
	if e != nil {
		c.stats.recordRemoval()
	}
	return e != nil, nil
}

func (c *MemoryCache) RemoveAll(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		c.mu.Lock()
		n := len(c.entries)
		c.entries = make(map[string]*entry)
		c.prefixIndex = map[string]map[string]struct{}{"": {}}
		atomic.StoreInt64(&c.totalSize, 0)
		c.mu.Unlock()
		return n, nil
	}
	count := 0
	for _, k := range keys {
		ok, err := c.Remove(ctx, k)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (c *MemoryCache) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	bucketName := c.longestIndexedBoundary(prefix)
	bucket := c.prefixIndex[bucketName]

	var toRemove []string
	for k := range bucket {
		if strings.HasPrefix(k, prefix) {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		c.removeLocked(k)
	}
	c.mu.Unlock()
	return len(toRemove), nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	return e != nil, nil
}

func (c *MemoryCache) GetExpiration(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	if e == nil {
		return 0, false, nil
	}
	e.mu.Lock()
	d, ok := e.expirationLocked(now)
	e.mu.Unlock()
	return d, ok, nil
}

func (c *MemoryCache) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	if e == nil {
		return nil
	}
	e.mu.Lock()
	if ttl == NoTTL {
		e.hasExpiry = false
	} else {
		e.hasExpiry = true
		e.expiresAt = now.Add(ttl)
	}
	e.mu.Unlock()
	if ttl == 0 {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
	}
	return nil
}

// --- numeric ops ------------------------------------------------------------

func coerceInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func (c *MemoryCache) incrementBy(ctx context.Context, key string, delta int64, ttl time.Duration, combine func(current, delta int64) int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.isExpiredLocked(now) {
		if ok {
			c.removeLocked(key)
		}
		e = &entry{key: key, insertionTime: now}
		c.entries[key] = e
		c.indexInsertLocked(key)
	}
	c.mu.Unlock()

	e.mu.Lock()
	current := coerceInt64(e.value)
	next := combine(current, delta)
	sizeDelta := int64(8) - e.sizeBytes
	e.value = next
	e.sizeBytes = 8
	e.lastAccess = now
	if ttl != NoTTL {
		if ttl == 0 {
			e.hasExpiry = true
			e.expiresAt = now
		} else {
			e.hasExpiry = true
			e.expiresAt = now.Add(ttl)
		}
	}
	e.mu.Unlock()
	atomic.AddInt64(&c.totalSize, sizeDelta)

	c.enforceLimits()
	return next, nil
}

func (c *MemoryCache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.incrementBy(ctx, key, delta, ttl, func(cur, d int64) int64 { return cur + d })
}

func (c *MemoryCache) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return c.incrementBy(ctx, key, delta, ttl, func(cur, d int64) int64 { return cur - d })
}

func (c *MemoryCache) SetIfHigher(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	return c.incrementBy(ctx, key, value, ttl, func(cur, v int64) int64 {
		if v > cur {
			return v
		}
		return cur
	})
}

func (c *MemoryCache) SetIfLower(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	return c.incrementBy(ctx, key, value, ttl, func(cur, v int64) int64 {
		if cur == 0 || v < cur {
			return v
		}
		return cur
	})
}

// --- set semantics -----------------------------------------------------------

func (c *MemoryCache) SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.isExpiredLocked(now) {
		if ok {
			c.removeLocked(key)
		}
		e = &entry{key: key, insertionTime: now}
		c.entries[key] = e
		c.indexInsertLocked(key)
	}
	c.mu.Unlock()

	added := 0
	e.mu.Lock()
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	for _, m := range members {
		if _, exists := e.set[m]; !exists {
			e.set[m] = struct{}{}
			added++
		}
	}
	e.lastAccess = now
	if ttl != NoTTL {
		e.hasExpiry = true
		e.expiresAt = now.Add(ttl)
	}
	e.mu.Unlock()

	c.enforceLimits()
	return added, nil
}

func (c *MemoryCache) SetRemove(ctx context.Context, key string, members []string) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	if e == nil {
		return 0, nil
	}

	removed := 0
	e.mu.Lock()
	for _, m := range members {
		if _, exists := e.set[m]; exists {
			delete(e.set, m)
			removed++
		}
	}
	e.mu.Unlock()
	return removed, nil
}

func (c *MemoryCache) GetSet(ctx context.Context, key string) (map[string]struct{}, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	c.mu.Lock()
	e, reaped := c.getLiveLocked(key, now)
	c.mu.Unlock()
	if reaped {
		c.fireExpired(key, CauseTTL)
	}
	if e == nil {
		return nil, nil
	}
	e.mu.Lock()
	out := make(map[string]struct{}, len(e.set))
	for m := range e.set {
		out[m] = struct{}{}
	}
	e.lastAccess = now
	e.mu.Unlock()
	return out, nil
}

// --- eviction ----------------------------------------------------------------

func (c *MemoryCache) enforceLimits() {
	if c.opts.MaxItems <= 0 && c.opts.MaxMemoryBytes <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	overItems := func() bool { return c.opts.MaxItems > 0 && len(c.entries) > c.opts.MaxItems }
	overBytes := func() bool {
		return c.opts.MaxMemoryBytes > 0 && atomic.LoadInt64(&c.totalSize) > c.opts.MaxMemoryBytes
	}
	if !overItems() && !overBytes() {
		return
	}

	now := c.clock.Now()
	type scored struct {
		key   string
		score float64
		ins   time.Time
	}
	candidates := make([]scored, 0, len(c.entries))
	for k, e := range c.entries {
		e.mu.Lock()
		s := evictionScore(c.opts.Weights, e, now)
		ins := e.insertionTime
		e.mu.Unlock()
		candidates = append(candidates, scored{key: k, score: s, ins: ins})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].ins.Before(candidates[j].ins)
	})

	var evicted []string
	for _, cand := range candidates {
		if !overItems() && !overBytes() {
			break
		}
		c.removeLocked(cand.key)
		evicted = append(evicted, cand.key)
	}

	if len(evicted) > 0 {
		for range evicted {
			c.stats.recordEviction()
		}
		logger.WithField("count", len(evicted)).Debug("evicted entries over capacity")
		go func() {
			for _, k := range evicted {
				c.fireExpired(k, CauseCapacity)
			}
		}()
	}
}

// --- TTL reaping ---------------------------------------------------------

func (c *MemoryCache) reapLoop() {
	for {
		wait := c.timeUntilNextReap()
		timer := c.clock.NewTimer(wait)
		select {
		case <-timer.Chan():
			c.reapExpired()
		case <-c.closeCh:
			timer.Stop()
			return
		}
	}
}

func (c *MemoryCache) timeUntilNextReap() time.Duration {
	now := c.clock.Now()
	var nextExpiry time.Time
	found := false

	c.mu.RLock()
	for _, e := range c.entries {
		e.mu.Lock()
		if e.hasExpiry && (!found || e.expiresAt.Before(nextExpiry)) {
			nextExpiry = e.expiresAt
			found = true
		}
		e.mu.Unlock()
	}
	c.mu.RUnlock()

	if !found {
		return c.opts.ReapInterval
	}
	d := nextExpiry.Sub(now)
	if d < c.opts.ReapInterval {
		d = c.opts.ReapInterval
	}
	return d
}

func (c *MemoryCache) reapExpired() {
	now := c.clock.Now()
	var expired []string

	c.mu.Lock()
	for k, e := range c.entries {
		e.mu.Lock()
		isExp := e.isExpiredLocked(now)
		e.mu.Unlock()
		if isExp {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		c.removeLocked(k)
	}
	c.mu.Unlock()

	for _, k := range expired {
		c.fireExpired(k, CauseTTL)
	}
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}
