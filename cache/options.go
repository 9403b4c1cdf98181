package cache

import "time"

// EvictionWeights exposes the eviction scoring constants as configuration
// with documented defaults, rather than leaving them hardcoded. Score is a
// weighted combination of size, recency and age; highest-scored entries
// are evicted first.
type EvictionWeights struct {
	Size         float64
	RecencyBoost float64
	AgeBoost     float64
}

// DefaultEvictionWeights: size dominates, with recency weighted slightly
// higher than raw insertion age so a big-but-recently-touched item survives
// longer than a big-and-stale one.
var DefaultEvictionWeights = EvictionWeights{
	Size:         1.0,
	RecencyBoost: 0.6,
	AgeBoost:     0.4,
}

// Options configures MemoryCache.
type Options struct {
	// MaxItems caps the number of live entries. 0 means unbounded.
	MaxItems int
	// MaxMemoryBytes caps aggregate tracked size. 0 means unbounded.
	// Entries with no explicit size contribute 0 to this total.
	MaxMemoryBytes int64
	// ReapInterval is the minimum spacing between proactive TTL sweeps,
	// even if an earlier expiration is pending; avoids timer churn when
	// many entries expire within milliseconds of each other.
	ReapInterval time.Duration
	// Weights configures eviction scoring.
	Weights EvictionWeights
}

func (o Options) withDefaults() Options {
	if o.ReapInterval <= 0 {
		o.ReapInterval = 100 * time.Millisecond
	}
	if o.Weights == (EvictionWeights{}) {
		o.Weights = DefaultEvictionWeights
	}
	return o
}
