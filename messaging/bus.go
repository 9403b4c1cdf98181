// Package messaging implements the MessageBus capability: a
// pub/sub bus that routes by message type hierarchy (a subscriber to a base
// type also receives messages of any type that embeds it), supports
// delayed delivery, and isolates slow subscribers from each other.
package messaging

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by Publish/Subscribe once the bus has been closed.
var ErrClosed = errors.New("messaging: bus closed")

// Message is the envelope delivered to subscribers. Body carries the
// published value; Type is its registered type name, computed via
// reflection so subscribers can filter without importing every publisher's
// concrete type.
type Message struct {
	Type       string
	Body       any
	Headers    map[string]string
	EnqueuedAt time.Time
}

// Handler processes one delivered Message. A returned error is logged but
// never retried or redelivered — MessageBus is at-most-once per
// subscriber, unlike Queue's at-least-once contract.
type Handler func(ctx context.Context, msg Message) error

// Subscription represents one registered Handler. Close stops delivery to
// this handler only; other subscribers on the same bus are unaffected.
type Subscription interface {
	Close() error
}

// PublishOptions controls one Publish call.
type PublishOptions struct {
	// Delay defers delivery by this duration. Zero means immediate.
	Delay time.Duration
	// Headers are attached to the delivered Message verbatim.
	Headers map[string]string
}

// SubscribeOptions controls one Subscribe call.
type SubscribeOptions struct {
	// QueueSize bounds how many pending messages this subscriber can
	// buffer; once it is full, further messages for this subscriber are
	// dropped and Publish does not block. This is the mechanism behind
	// subscriber isolation — one slow handler fills its own buffer, never
	// another subscriber's.
	QueueSize int
}

// MessageBus is the capability surface this package implements.
type MessageBus interface {
	// Publish delivers msg to every subscriber registered for msg's type
	// or any of its ancestor types.
	Publish(ctx context.Context, msg any, opts PublishOptions) error

	// Subscribe registers handler for messages whose runtime type is
	// exactly sample's type or embeds it. sample is used only to capture
	// the type to filter on; its value is discarded.
	Subscribe(ctx context.Context, sample any, handler Handler, opts SubscribeOptions) (Subscription, error)

	Close() error
}
