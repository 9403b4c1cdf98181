package cache

import "sync/atomic"

// Stats tracks cumulative counters for a MemoryCache. It is a supplemental
// addition (not named explicitly in the capability surface) so operators
// can observe hit rate the way production deployments always want to.
type Stats struct {
	hits      int64
	misses    int64
	sets      int64
	removals  int64
	evictions int64
}

func (s *Stats) recordHit()      { atomic.AddInt64(&s.hits, 1) }
func (s *Stats) recordMiss()     { atomic.AddInt64(&s.misses, 1) }
func (s *Stats) recordSet()      { atomic.AddInt64(&s.sets, 1) }
func (s *Stats) recordRemoval()  { atomic.AddInt64(&s.removals, 1) }
func (s *Stats) recordEviction() { atomic.AddInt64(&s.evictions, 1) }

// Snapshot is a point-in-time copy of Stats safe to read without races.
type Snapshot struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Removals  int64
	Evictions int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Hits:      atomic.LoadInt64(&s.hits),
		Misses:    atomic.LoadInt64(&s.misses),
		Sets:      atomic.LoadInt64(&s.sets),
		Removals:  atomic.LoadInt64(&s.removals),
		Evictions: atomic.LoadInt64(&s.evictions),
	}
}

// Stats returns a snapshot of this cache's cumulative counters.
func (c *MemoryCache) Stats() Snapshot {
	return c.stats.Snapshot()
}
