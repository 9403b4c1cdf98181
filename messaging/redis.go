package messaging

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"foundatio/serializer"
)

// RedisBus satisfies MessageBus against Redis pub/sub, grounded on the
// teacher's PubSubService. Redis pub/sub has no message type information
// on the wire, so RedisBus publishes to one channel per registered type
// name and relies on the same type-hierarchy fan-out logic as MemoryBus
// applied locally to each subscriber's declared sample type — a subscriber
// to a base type subscribes to the Redis channels of every concrete type
// it has been told about via WithKnownType.
type RedisBus struct {
	client     *goredis.Client
	serializer serializer.Serializer
	channelPrefix string

	mu         sync.Mutex
	knownTypes []reflect.Type

	closeOnce sync.Once
	closed    chan struct{}
}

// RedisBusOptions configures RedisBus.
type RedisBusOptions struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	Serializer    serializer.Serializer
}

// NewRedisBus dials Redis and verifies connectivity.
func NewRedisBus(ctx context.Context, opts RedisBusOptions) (*RedisBus, error) {
	if opts.Serializer == nil {
		opts.Serializer = serializer.JSON{}
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "messaging: connect to redis")
	}
	return &RedisBus{
		client:        client,
		serializer:    opts.Serializer,
		channelPrefix: opts.ChannelPrefix,
		closed:        make(chan struct{}),
	}, nil
}

// WithKnownType registers a concrete message type so RedisBus knows which
// channel name to publish it under and which channels a base-type
// subscriber must listen to. Call once per concrete type used with this
// bus before Publish/Subscribe.
func (b *RedisBus) WithKnownType(sample any) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, known := range b.knownTypes {
		if known == t {
			return
		}
	}
	b.knownTypes = append(b.knownTypes, t)
}

func (b *RedisBus) channelFor(t reflect.Type) string {
	return b.channelPrefix + typeName(t)
}

// wireMessage is what actually crosses the Redis connection. Body stays
// serialized: RedisBus hands Handler the raw encoded bytes in
// Message.Body rather than a decoded value, since the subscriber process
// may not share the publisher's compiled types. Callers deserialize with
// the same serializer.Serializer configured on this bus.
type wireMessage struct {
	Type    string
	Body    []byte
	Headers map[string]string
}

func (b *RedisBus) Publish(ctx context.Context, msg any, opts PublishOptions) error {
	t := reflect.TypeOf(msg)
	body, err := b.serializer.Serialize(msg)
	if err != nil {
		return errors.Wrap(err, "messaging: serialize")
	}
	wire := wireMessage{Type: typeName(t), Body: body, Headers: opts.Headers}
	encoded, err := b.serializer.Serialize(wire)
	if err != nil {
		return errors.Wrap(err, "messaging: serialize envelope")
	}

	publish := func() error {
		return b.client.Publish(ctx, b.channelFor(t), encoded).Err()
	}

	if opts.Delay > 0 {
		go func() {
			select {
			case <-time.After(opts.Delay):
				_ = publish()
			case <-b.closed:
			}
		}()
		return nil
	}
	return errors.Wrap(publish(), "messaging: redis publish")
}

type redisSubscription struct {
	pubsub *goredis.PubSub
}

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

// Subscribe listens on the Redis channel for sample's exact type, plus the
// channel for every known concrete type that embeds sample's type — this
// is RedisBus's analogue of MemoryBus's reflective type-hierarchy routing,
// bounded to types the caller has registered with WithKnownType.
func (b *RedisBus) Subscribe(ctx context.Context, sample any, handler Handler, opts SubscribeOptions) (Subscription, error) {
	target := reflect.TypeOf(sample)
	for target.Kind() == reflect.Ptr {
		target = target.Elem()
	}

	b.mu.Lock()
	channels := []string{b.channelFor(target)}
	for _, known := range b.knownTypes {
		if known != target && embedsType(known, target) {
			channels = append(channels, b.channelFor(known))
		}
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "messaging: redis subscribe")
	}

	go func() {
		for raw := range pubsub.Channel() {
			var wire wireMessage
			if err := b.serializer.Deserialize([]byte(raw.Payload), &wire); err != nil {
				continue
			}
			msg := Message{Type: wire.Type, Body: wire.Body, Headers: wire.Headers, EnqueuedAt: time.Now()}
			if err := handler(ctx, msg); err != nil {
				// Redis pub/sub is fire-and-forget: no redelivery, matching
				// MemoryBus's at-most-once contract.
				continue
			}
		}
	}()

	return &redisSubscription{pubsub: pubsub}, nil
}

func (b *RedisBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return b.client.Close()
}
