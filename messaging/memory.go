package messaging

import (
	"context"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"foundatio/clock"
	"foundatio/internal/chanutil"
)

var logger = logrus.WithFields(logrus.Fields{"component": "messaging"})

const defaultQueueSize = 16

type subscription struct {
	bus     *MemoryBus
	target  reflect.Type
	handler Handler
	ch      chan Message

	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		s.cancel()
	})
	return nil
}

// loop drains ch through chanutil.OrDone so handler dispatch and
// cancellation share one channel read instead of a duplicated select.
func (s *subscription) loop() {
	for msg := range chanutil.OrDone(s.ctx, s.ch) {
		if err := s.handler(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("type", msg.Type).Warn("subscriber handler returned error")
		}
	}
}

// MemoryBus is the in-memory MessageBus engine.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}

	clock clock.Clock

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryBus constructs an in-memory MessageBus. clk may be nil to use
// the real wall clock.
func NewMemoryBus(clk clock.Clock) *MemoryBus {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryBus{
		subs:   make(map[*subscription]struct{}),
		clock:  clk,
		closed: make(chan struct{}),
	}
}

func (b *MemoryBus) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *MemoryBus) Subscribe(ctx context.Context, sample any, handler Handler, opts SubscribeOptions) (Subscription, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		bus:     b,
		target:  reflect.TypeOf(sample),
		handler: handler,
		ch:      make(chan Message, size),
		ctx:     subCtx,
		cancel:  cancel,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.loop()
	return s, nil
}

func (b *MemoryBus) Publish(ctx context.Context, msg any, opts PublishOptions) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	envelope := Message{
		Type:       typeName(reflect.TypeOf(msg)),
		Body:       msg,
		Headers:    opts.Headers,
		EnqueuedAt: b.clock.Now(),
	}

	if opts.Delay > 0 {
		timer := b.clock.NewTimer(opts.Delay)
		go func() {
			select {
			case <-timer.Chan():
				b.deliver(envelope, reflect.TypeOf(msg))
			case <-b.closed:
				timer.Stop()
			}
		}()
		return nil
	}

	b.deliver(envelope, reflect.TypeOf(msg))
	return nil
}

func (b *MemoryBus) deliver(msg Message, actualType reflect.Type) {
	b.mu.RLock()
	var targets []*subscription
	for s := range b.subs {
		if embedsType(actualType, s.target) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	// Sends are non-blocking: a subscriber whose buffer is full because its
	// handler is slow only affects itself (its own backlog grows, then
	// drops), never the bus or any other subscriber. This is what makes
	// subscriber isolation hold even inside one Publish call.
	for _, s := range targets {
		select {
		case s.ch <- msg:
		case <-s.ctx.Done():
		case <-b.closed:
			return
		default:
			logger.WithField("type", msg.Type).Warn("subscriber queue full, dropping message")
		}
	}
}

func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		for s := range b.subs {
			s.closeOnce.Do(func() { s.cancel() })
		}
		b.subs = make(map[*subscription]struct{})
		b.mu.Unlock()
	})
	return nil
}
