package cache

import "time"

// evictionScore computes a weighted combination of size,
// staleness-since-last-access and age-since-insertion. Highest scored
// entries are evicted first, so a large, long-untouched, old entry is
// evicted before a small, recently-touched, recently-inserted one — this is
// the LRU-compatible reading of the scoring rule; see DESIGN.md for why a
// naive reciprocal-of-age formula is inverted here (it would otherwise
// evict the freshest entries first).
func evictionScore(w EvictionWeights, e *entry, now time.Time) float64 {
	size := float64(e.sizeBytes)
	staleness := now.Sub(e.lastAccess).Seconds()
	age := now.Sub(e.insertionTime).Seconds()
	return w.Size*size + w.RecencyBoost*staleness + w.AgeBoost*age
}
