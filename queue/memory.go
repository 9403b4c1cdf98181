package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foundatio/clock"
	"foundatio/internal/idgen"
)

var logger = logrus.WithFields(logrus.Fields{"component": "queue"})

type item struct {
	id       string
	payload  any
	attempts int

	enqueuedAt time.Time
	expiresAt  time.Time // absolute payload TTL deadline

	leaseExpiresAt time.Time // valid while in working
	readyAt        time.Time // valid while in deferred
}

// MemoryQueue is the in-memory engine for the reliable queue state machine:
// entries move waiting -> working -> (completed | deferred -> waiting
// again | dead), with a background maintenance loop recycling timed-out
// leases and expiring stale entries.
type MemoryQueue struct {
	mu       sync.Mutex
	waiting  []*item
	working  map[string]*item
	deferred map[string]*item
	dead     []*item

	signal chan struct{} // closed and replaced whenever waiting gains an item

	opts  Options
	clock clock.Clock

	enqueued, dequeued, completed, abandoned, deadLettered int64

	closeOnce sync.Once
	closeCh   chan struct{}
}

func NewMemoryQueue(opts Options, clk clock.Clock) *MemoryQueue {
	opts = opts.withDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	q := &MemoryQueue{
		working:  make(map[string]*item),
		deferred: make(map[string]*item),
		signal:   make(chan struct{}),
		opts:     opts,
		clock:    clk,
		closeCh:  make(chan struct{}),
	}
	go q.maintenanceLoop()
	return q
}

func (q *MemoryQueue) notifyLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload any) (string, error) {
	now := q.clock.Now()
	it := &item{
		id:         uuid.NewString(),
		payload:    payload,
		enqueuedAt: now,
		expiresAt:  now.Add(q.opts.PayloadTTL),
	}

	q.mu.Lock()
	q.waiting = append(q.waiting, it)
	q.notifyLocked()
	q.mu.Unlock()

	atomic.AddInt64(&q.enqueued, 1)
	return it.id, nil
}

// popReadyLocked removes and returns the first non-expired waiting entry,
// silently dropping any expired ones it encounters along the way. Caller
// holds q.mu.
func (q *MemoryQueue) popReadyLocked(now time.Time) *item {
	for len(q.waiting) > 0 {
		it := q.waiting[0]
		q.waiting = q.waiting[1:]
		if now.After(it.expiresAt) {
			continue
		}
		return it
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, waitTimeout time.Duration) (*Entry, error) {
	deadline := q.clock.Now().Add(waitTimeout)

	for {
		q.mu.Lock()
		now := q.clock.Now()
		it := q.popReadyLocked(now)
		if it != nil {
			it.attempts++
			it.leaseExpiresAt = now.Add(q.opts.WorkItemTimeout)
			q.working[it.id] = it
			q.mu.Unlock()
			atomic.AddInt64(&q.dequeued, 1)
			return &Entry{
				ID:             it.id,
				Payload:        it.payload,
				Attempts:       it.attempts,
				EnqueuedAt:     it.enqueuedAt,
				LeaseExpiresAt: it.leaseExpiresAt,
			}, nil
		}
		sig := q.signal
		q.mu.Unlock()

		if waitTimeout <= 0 {
			return nil, nil
		}
		remaining := deadline.Sub(q.clock.Now())
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-sig:
			// something was enqueued or recycled, loop and try again
		case <-q.clock.After(remaining):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.closeCh:
			return nil, nil
		}
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	_, ok := q.working[id]
	if ok {
		delete(q.working, id)
	}
	q.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	atomic.AddInt64(&q.completed, 1)
	return nil
}

func (q *MemoryQueue) Abandon(ctx context.Context, id string) error {
	q.mu.Lock()
	it, ok := q.working[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	delete(q.working, id)
	q.abandonLocked(it)
	q.mu.Unlock()
	return nil
}

// abandonLocked moves it to waiting/deferred (for a future retry) or dead
// (if its retry budget is exhausted). Caller holds q.mu and has already
// removed it from working.
func (q *MemoryQueue) abandonLocked(it *item) {
	if it.attempts > q.opts.MaxRetries {
		q.dead = append(q.dead, it)
		if len(q.dead) > q.opts.DeadLetterMaxItems {
			q.dead = q.dead[len(q.dead)-q.opts.DeadLetterMaxItems:]
		}
		atomic.AddInt64(&q.deadLettered, 1)
		return
	}

	delay := q.opts.retryDelayFor(it.attempts)
	if delay <= 0 {
		// Zero-delay retries jump the queue: reinsert at the head of
		// waiting immediately instead of waiting for a maintenance tick.
		q.waiting = append([]*item{it}, q.waiting...)
		q.notifyLocked()
	} else {
		it.readyAt = q.clock.Now().Add(delay)
		q.deferred[it.id] = it
	}
	atomic.AddInt64(&q.abandoned, 1)
}

func (q *MemoryQueue) Renew(ctx context.Context, id string, extension time.Duration) error {
	if extension <= 0 {
		extension = q.opts.WorkItemTimeout
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.working[id]
	if !ok {
		return ErrNotFound
	}
	it.leaseExpiresAt = q.clock.Now().Add(extension)
	return nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	s := Stats{
		Waiting:    len(q.waiting),
		Working:    len(q.working),
		Deferred:   len(q.deferred),
		DeadLetter: len(q.dead),
	}
	q.mu.Unlock()

	s.Enqueued = atomic.LoadInt64(&q.enqueued)
	s.Dequeued = atomic.LoadInt64(&q.dequeued)
	s.Completed = atomic.LoadInt64(&q.completed)
	s.Abandoned = atomic.LoadInt64(&q.abandoned)
	s.DeadLettered = atomic.LoadInt64(&q.deadLettered)
	return s, nil
}

// maintenanceLoop recycles timed-out leases, promotes deferred entries
// whose retry delay has elapsed, and drops anything past its TTL. This is
// what makes delivery at-least-once: a worker that dies mid-processing
// never holds an entry hostage past WorkItemTimeout.
func (q *MemoryQueue) maintenanceLoop() {
	timer := q.clock.NewTimer(q.nextMaintenanceInterval())
	defer timer.Stop()
	for {
		select {
		case <-timer.Chan():
			q.runMaintenance()
			timer.Reset(q.nextMaintenanceInterval())
		case <-q.closeCh:
			return
		}
	}
}

// nextMaintenanceInterval adds a small random jitter to MaintenanceInterval
// so many queue instances in a fleet don't all run maintenance in lockstep.
func (q *MemoryQueue) nextMaintenanceInterval() time.Duration {
	jitter := idgen.JitterMillis(int64(q.opts.MaintenanceInterval / time.Millisecond / 10))
	return q.opts.MaintenanceInterval + time.Duration(jitter)*time.Millisecond
}

func (q *MemoryQueue) runMaintenance() {
	now := q.clock.Now()

	q.mu.Lock()

	var timedOut []*item
	for id, it := range q.working {
		if now.After(it.leaseExpiresAt) {
			timedOut = append(timedOut, it)
			delete(q.working, id)
		}
	}
	for _, it := range timedOut {
		q.abandonLocked(it)
	}

	var promoted int
	for id, it := range q.deferred {
		if it.expiresAt.Before(now) {
			delete(q.deferred, id)
			continue
		}
		if !now.Before(it.readyAt) {
			delete(q.deferred, id)
			// Retries reinsert at the head so they may jump ahead of
			// fresh, never-attempted entries already waiting.
			q.waiting = append([]*item{it}, q.waiting...)
			promoted++
		}
	}

	keptDead := q.dead[:0]
	for _, it := range q.dead {
		if now.Sub(it.enqueuedAt) <= q.opts.DeadLetterTTL {
			keptDead = append(keptDead, it)
		}
	}
	q.dead = keptDead

	if len(timedOut) > 0 || promoted > 0 {
		q.notifyLocked()
	}
	q.mu.Unlock()

	if len(timedOut) > 0 {
		logger.WithField("count", len(timedOut)).Debug("recycled timed-out leases")
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closeCh) })
	return nil
}
