package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foundatio/clock"
	"foundatio/messaging"
)

type orderEvent struct {
	OrderID string
}

type orderShippedEvent struct {
	orderEvent
	TrackingNumber string
}

func TestPublishSubscribeExactType(t *testing.T) {
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan messaging.Message, 1)
	sub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		received <- msg
		return nil
	}, messaging.SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), orderEvent{OrderID: "o1"}, messaging.PublishOptions{}))

	select {
	case msg := <-received:
		body, ok := msg.Body.(orderEvent)
		require.True(t, ok)
		assert.Equal(t, "o1", body.OrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscriberReceivesDerivedType(t *testing.T) {
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan messaging.Message, 1)
	sub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		received <- msg
		return nil
	}, messaging.SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	shipped := orderShippedEvent{orderEvent: orderEvent{OrderID: "o2"}, TrackingNumber: "t1"}
	require.NoError(t, bus.Publish(context.Background(), shipped, messaging.PublishOptions{}))

	select {
	case msg := <-received:
		body, ok := msg.Body.(orderShippedEvent)
		require.True(t, ok)
		assert.Equal(t, "o2", body.OrderID)
		assert.Equal(t, "t1", body.TrackingNumber)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestUnrelatedTypeNotDelivered(t *testing.T) {
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	type unrelated struct{ X int }

	received := make(chan messaging.Message, 1)
	sub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		received <- msg
		return nil
	}, messaging.SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), unrelated{X: 1}, messaging.PublishOptions{}))

	select {
	case <-received:
		t.Fatal("unexpected delivery of unrelated type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDelayedDelivery(t *testing.T) {
	mc := clock.NewMock(time.Now())
	bus := messaging.NewMemoryBus(mc)
	defer bus.Close()

	received := make(chan messaging.Message, 1)
	sub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		received <- msg
		return nil
	}, messaging.SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), orderEvent{OrderID: "o3"}, messaging.PublishOptions{Delay: 50 * time.Millisecond}))

	select {
	case <-received:
		t.Fatal("message delivered before delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	mc.Advance(100 * time.Millisecond)

	select {
	case msg := <-received:
		body := msg.Body.(orderEvent)
		assert.Equal(t, "o3", body.OrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delayed message")
	}
}

func TestSubscriberIsolation(t *testing.T) {
	bus := messaging.NewMemoryBus(nil)
	defer bus.Close()

	var slowStarted sync.WaitGroup
	slowStarted.Add(1)
	slowRelease := make(chan struct{})

	slowSub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		slowStarted.Done()
		<-slowRelease
		return nil
	}, messaging.SubscribeOptions{QueueSize: 1})
	require.NoError(t, err)
	defer slowSub.Close()

	fastReceived := make(chan messaging.Message, 4)
	fastSub, err := bus.Subscribe(context.Background(), orderEvent{}, func(ctx context.Context, msg messaging.Message) error {
		fastReceived <- msg
		return nil
	}, messaging.SubscribeOptions{})
	require.NoError(t, err)
	defer fastSub.Close()

	require.NoError(t, bus.Publish(context.Background(), orderEvent{OrderID: "block"}, messaging.PublishOptions{}))
	slowStarted.Wait()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), orderEvent{OrderID: "fast"}, messaging.PublishOptions{}))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-fastReceived:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved by slow subscriber")
		}
	}

	close(slowRelease)
}
