package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundatio/clock"
	"foundatio/queue"
)

func TestEnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(queue.Options{}, nil)
	defer q.Close()

	id, err := q.Enqueue(ctx, "payload-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entry, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "payload-1", entry.Payload)
	assert.Equal(t, 1, entry.Attempts)

	require.NoError(t, q.Complete(ctx, entry.ID))

	// nothing left
	entry2, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, entry2)
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(queue.Options{}, nil)
	defer q.Close()

	resultCh := make(chan *queue.Entry, 1)
	go func() {
		e, _ := q.Dequeue(ctx, time.Second)
		resultCh <- e
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := q.Enqueue(ctx, "late-payload")
	require.NoError(t, err)

	select {
	case e := <-resultCh:
		require.NotNil(t, e)
		assert.Equal(t, "late-payload", e.Payload)
	case <-time.After(time.Second):
		t.Fatal("dequeue never unblocked after enqueue")
	}
}

func TestAbandonRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	q := queue.NewMemoryQueue(queue.Options{
		RetryDelay:          time.Millisecond,
		RetryMultipliers:    []int{1, 1, 1},
		MaxRetries:          2,
		MaintenanceInterval: time.Millisecond,
	}, mc)
	defer q.Close()

	_, err := q.Enqueue(ctx, "flaky-payload")
	require.NoError(t, err)

	// MaxRetries=2 allows three deliveries total (attempts 1, 2, 3):
	// an item only dead-letters once attempts exceeds MaxRetries.
	for attempt := 1; attempt <= 3; attempt++ {
		entry, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, entry, "attempt %d", attempt)
		assert.Equal(t, attempt, entry.Attempts)
		require.NoError(t, q.Abandon(ctx, entry.ID))
		mc.Advance(10 * time.Millisecond)
		time.Sleep(10 * time.Millisecond) // let maintenance goroutine observe mock time
	}

	// Retry budget exhausted: no further redelivery, entry is dead-lettered.
	// A zero wait checks without blocking: the wait is measured on the mock
	// clock, which nothing advances from here on.
	entry, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, entry)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetter)
	assert.EqualValues(t, 1, stats.DeadLettered)
}

func TestLeaseTimeoutAutoAbandons(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	q := queue.NewMemoryQueue(queue.Options{
		WorkItemTimeout:     10 * time.Millisecond,
		MaintenanceInterval: time.Millisecond,
		MaxRetries:          5,
		// Zero retry delay, so a timed-out lease goes straight back to
		// waiting instead of being deferred.
		RetryMultipliers: []int{0},
	}, mc)
	defer q.Close()

	_, err := q.Enqueue(ctx, "stuck-payload")
	require.NoError(t, err)

	entry, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Simulate a dead worker: never Complete or Abandon. After the lease
	// timeout elapses, maintenance should recycle it back to waiting.
	mc.Advance(50 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	redelivered, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, "stuck-payload", redelivered.Payload)
	assert.Equal(t, 2, redelivered.Attempts)
}

func TestRenewExtendsLease(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewMock(time.Now())
	q := queue.NewMemoryQueue(queue.Options{
		WorkItemTimeout:     20 * time.Millisecond,
		MaintenanceInterval: time.Millisecond,
	}, mc)
	defer q.Close()

	_, err := q.Enqueue(ctx, "long-running")
	require.NoError(t, err)

	entry, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)

	mc.Advance(15 * time.Millisecond)
	require.NoError(t, q.Renew(ctx, entry.ID, 20*time.Millisecond))

	mc.Advance(15 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	// still within the renewed lease: must not have been recycled
	// (zero wait: the mock clock is not advanced while Dequeue would block)
	recycled, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, recycled)

	require.NoError(t, q.Complete(ctx, entry.ID))
}
