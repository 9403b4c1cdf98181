// Package jobs implements the work-item job runner: typed
// dispatch over a Queue, cooperative cancellation tied to the lease
// deadline, progress reporting that renews both the queue lease and an
// optional per-item distributed lock, and automatic complete/abandon based
// on the handler's outcome.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foundatio/internal/idgen"
	"foundatio/lock"
	"foundatio/messaging"
	"foundatio/queue"
)

var logger = logrus.WithFields(logrus.Fields{"component": "jobs"})

// ProgressEvent is published on Bus (if configured) every time a handler
// reports progress, so operators can observe long-running work items.
type ProgressEvent struct {
	WorkItemID string
	Type       string
	Percent    int
	Message    string
}

// RunnerOptions configures WorkItemRunner.
type RunnerOptions struct {
	// Concurrency is how many work items run at once.
	Concurrency int
	// DequeueWaitTimeout bounds how long each worker blocks waiting for a
	// new entry before checking ctx.Done() again.
	DequeueWaitTimeout time.Duration
	// RenewExtension is how far a progress report pushes the queue
	// lease out. Zero disables lease auto-renewal on progress.
	RenewExtension time.Duration
	// LockResource, if set, is used to derive the per-work-item resource
	// name passed to Provider.TryAcquire: LockResource(envelope) or, if
	// nil, "workitem:"+entry.ID. Set this when two different queue
	// entries can represent the same logical resource and must not run
	// concurrently.
	LockResource func(WorkItemEnvelope) string
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.DequeueWaitTimeout <= 0 {
		o.DequeueWaitTimeout = 5 * time.Second
	}
	return o
}

// WorkItemRunner dispatches queued work items to registered handlers.
type WorkItemRunner struct {
	queue        queue.Queue
	lockProvider lock.Provider
	bus          messaging.MessageBus
	opts         RunnerOptions

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewWorkItemRunner(q queue.Queue, lockProvider lock.Provider, bus messaging.MessageBus, opts RunnerOptions) *WorkItemRunner {
	return &WorkItemRunner{
		queue:        q,
		lockProvider: lockProvider,
		bus:          bus,
		opts:         opts.withDefaults(),
		handlers:     make(map[string]Handler),
	}
}

func (r *WorkItemRunner) RegisterHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

func (r *WorkItemRunner) handlerFor(typeName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typeName]
	return h, ok
}

// EnqueueOption customizes the WorkItemEnvelope built by Enqueue.
type EnqueueOption func(*WorkItemEnvelope)

// WithProgressReports controls whether process publishes the start/
// success/failure ProgressEvents for this work item. Enabled by default.
func WithProgressReports(enabled bool) EnqueueOption {
	return func(e *WorkItemEnvelope) { e.SendProgressReports = enabled }
}

// WithMetricsName overrides the label used for this work item's metrics,
// in place of its Type.
func WithMetricsName(name string) EnqueueOption {
	return func(e *WorkItemEnvelope) { e.MetricsName = name }
}

// Enqueue wraps payload in a WorkItemEnvelope under typeName and submits
// it to the underlying queue, returning the assigned work item id.
func (r *WorkItemRunner) Enqueue(ctx context.Context, typeName string, payload any, opts ...EnqueueOption) (string, error) {
	envelope := WorkItemEnvelope{
		ID:                  uuid.NewString(),
		Type:                typeName,
		Payload:             payload,
		SendProgressReports: true,
	}
	for _, opt := range opts {
		opt(&envelope)
	}
	return r.queue.Enqueue(ctx, envelope)
}

// Run starts Concurrency workers and blocks until ctx is cancelled, then
// waits for in-flight work items to finish before returning.
func (r *WorkItemRunner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		workerID, err := idgen.String(6)
		if err != nil {
			workerID = "worker"
		}
		go func() {
			defer wg.Done()
			r.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()
	return nil
}

func (r *WorkItemRunner) workerLoop(ctx context.Context, workerID string) {
	log := logger.WithField("worker", workerID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, err := r.queue.Dequeue(ctx, r.opts.DequeueWaitTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("dequeue failed")
			continue
		}
		if entry == nil {
			continue
		}

		if err := r.process(ctx, entry); err != nil {
			log.WithError(err).Warn("work item processing error")
		}
	}
}

// publishLifecycleEvent emits the runner's own start/success/failure
// ProgressEvent, as opposed to one a handler originates via Report. Subject
// to envelope.SendProgressReports, same as handler-originated events are
// subject to r.bus being configured at all.
func (r *WorkItemRunner) publishLifecycleEvent(ctx context.Context, entry *queue.Entry, envelope WorkItemEnvelope, percent int, message string) {
	if r.bus == nil || !envelope.SendProgressReports {
		return
	}
	event := ProgressEvent{WorkItemID: envelope.ID, Type: envelope.Type, Percent: percent, Message: message}
	if err := r.bus.Publish(ctx, event, messaging.PublishOptions{}); err != nil {
		logger.WithError(err).WithField("id", entry.ID).Warn("failed to publish work item lifecycle event")
	}
}

func (r *WorkItemRunner) process(ctx context.Context, entry *queue.Entry) error {
	envelope, ok := entry.Payload.(WorkItemEnvelope)
	if !ok {
		logger.WithField("id", entry.ID).Error("queue entry is not a WorkItemEnvelope, abandoning")
		_ = r.queue.Abandon(ctx, entry.ID)
		return errors.Newf("jobs: queue entry %s payload is not a WorkItemEnvelope", entry.ID)
	}

	handler, ok := r.handlerFor(envelope.Type)
	if !ok {
		logger.WithField("type", envelope.Type).Error("no handler registered for work item type, completing")
		if err := r.queue.Complete(ctx, entry.ID); err != nil {
			logger.WithError(err).WithField("id", entry.ID).Warn("failed to complete work item with no handler")
		}
		return errors.Newf("jobs: no handler registered for work item type %q", envelope.Type)
	}

	resource := "workitem:" + entry.ID
	if r.opts.LockResource != nil {
		resource = r.opts.LockResource(envelope)
	}

	var lockHandle lock.Handle
	if r.lockProvider != nil {
		h, err := r.lockProvider.TryAcquire(ctx, resource)
		if err != nil {
			logger.WithError(err).WithField("resource", resource).Warn("failed to acquire work item lock")
			_ = r.queue.Abandon(ctx, entry.ID)
			return errors.Wrapf(err, "jobs: acquire lock for resource %q", resource)
		}
		if h == nil {
			// Another runner already owns this resource; let it finish.
			_ = r.queue.Abandon(ctx, entry.ID)
			return nil
		}
		lockHandle = h
		defer func() {
			if err := lockHandle.Release(context.Background()); err != nil {
				logger.WithError(err).WithField("resource", resource).Warn("failed to release work item lock")
			}
		}()
	}

	leaseCtx := ctx
	var cancel context.CancelFunc
	if !entry.LeaseExpiresAt.IsZero() {
		leaseCtx, cancel = context.WithDeadline(ctx, entry.LeaseExpiresAt)
		defer cancel()
	}

	reporter := &progressReporter{runner: r, entryID: entry.ID, workItemID: envelope.ID, workItemType: envelope.Type, lockHandle: lockHandle}

	r.publishLifecycleEvent(ctx, entry, envelope, 0, "start")

	err := handler.Handle(leaseCtx, envelope.Payload, reporter)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{"id": entry.ID, "type": envelope.Type}).Warn("work item handler failed")
		r.publishLifecycleEvent(ctx, entry, envelope, -1, "Failed: "+err.Error())
		if abandonErr := r.queue.Abandon(ctx, entry.ID); abandonErr != nil {
			logger.WithError(abandonErr).Warn("failed to abandon work item after handler error")
		}
		return errors.Wrapf(err, "jobs: work item %s handler", entry.ID)
	}

	if err := r.queue.Complete(ctx, entry.ID); err != nil {
		logger.WithError(err).WithField("id", entry.ID).Warn("failed to mark work item complete")
	}
	r.publishLifecycleEvent(ctx, entry, envelope, 100, "end")
	return nil
}

type progressReporter struct {
	runner       *WorkItemRunner
	entryID      string
	workItemID   string
	workItemType string
	lockHandle   lock.Handle
}

func (p *progressReporter) Report(ctx context.Context, percent int, message string) error {
	if p.runner.opts.RenewExtension > 0 {
		if err := p.runner.queue.Renew(ctx, p.entryID, p.runner.opts.RenewExtension); err != nil {
			logger.WithError(err).WithField("id", p.entryID).Warn("failed to renew queue lease on progress")
		}
	}
	if p.lockHandle != nil {
		if err := p.lockHandle.Renew(ctx); err != nil {
			logger.WithError(err).WithField("id", p.entryID).Warn("failed to renew work item lock on progress")
		}
	}
	if p.runner.bus != nil {
		event := ProgressEvent{WorkItemID: p.workItemID, Type: p.workItemType, Percent: percent, Message: message}
		if err := p.runner.bus.Publish(ctx, event, messaging.PublishOptions{}); err != nil {
			logger.WithError(err).WithField("id", p.entryID).Warn("failed to publish progress event")
		}
	}
	return nil
}
