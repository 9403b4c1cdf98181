package queue

import "time"

// RetryMultipliers are the backoff multipliers applied to RetryDelay: the
// Nth retry (1-indexed) waits RetryDelay * RetryMultipliers[min(N,len)-1].
// An explicitly configurable table instead of a fixed exponential curve, so
// callers can flatten or steepen the curve without touching code.
var DefaultRetryMultipliers = []int{1, 3, 5, 10}

// Options configures a Queue's retry and retention policy.
type Options struct {
	// RetryDelay is the base unit multiplied by RetryMultipliers.
	RetryDelay time.Duration
	// RetryMultipliers overrides DefaultRetryMultipliers.
	RetryMultipliers []int
	// MaxRetries caps how many times an entry may be abandoned before it
	// is dead-lettered instead of redelivered.
	MaxRetries int

	// WorkItemTimeout is how long a lease is valid before the entry is
	// treated as abandoned automatically.
	WorkItemTimeout time.Duration

	// PayloadTTL bounds how long an entry may exist before it is discarded
	// outright, win or lose. The check is applied to waiting and deferred
	// entries; a working entry is not discarded while leased. If zero, it
	// is computed as 1.5x the sum of all possible retry delays, floored
	// at 7 days, so a payload always outlives its own retry schedule.
	PayloadTTL time.Duration

	// DeadLetterTTL bounds how long a dead-lettered entry is retained,
	// measured from the entry's original enqueue time.
	DeadLetterTTL time.Duration
	// DeadLetterMaxItems caps the dead letter list size; oldest entries
	// are dropped once exceeded.
	DeadLetterMaxItems int

	// MaintenanceInterval is how often the background loop scans for
	// timed-out leases and expired deferred/dead-letter entries.
	MaintenanceInterval time.Duration
}

func sumRetryDelays(base time.Duration, multipliers []int, maxRetries int) time.Duration {
	var total time.Duration
	for i := 0; i < maxRetries && len(multipliers) > 0; i++ {
		idx := i
		if idx >= len(multipliers) {
			idx = len(multipliers) - 1
		}
		total += base * time.Duration(multipliers[idx])
	}
	return total
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if len(o.RetryMultipliers) == 0 {
		o.RetryMultipliers = DefaultRetryMultipliers
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = len(o.RetryMultipliers)
	}
	if o.WorkItemTimeout <= 0 {
		o.WorkItemTimeout = time.Minute
	}
	if o.PayloadTTL <= 0 {
		const sevenDays = 7 * 24 * time.Hour
		computed := time.Duration(float64(sumRetryDelays(o.RetryDelay, o.RetryMultipliers, o.MaxRetries)) * 1.5)
		if computed < sevenDays {
			computed = sevenDays
		}
		o.PayloadTTL = computed
	}
	if o.DeadLetterTTL <= 0 {
		o.DeadLetterTTL = 7 * 24 * time.Hour
	}
	if o.DeadLetterMaxItems <= 0 {
		o.DeadLetterMaxItems = 1000
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = time.Second
	}
	return o
}

// retryDelayFor returns the backoff before the attempt-th redelivery
// (attempt is 1-indexed: the delay before the first retry is attempt=1).
func (o Options) retryDelayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(o.RetryMultipliers) {
		idx = len(o.RetryMultipliers) - 1
	}
	return o.RetryDelay * time.Duration(o.RetryMultipliers[idx])
}
