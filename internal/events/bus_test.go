package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	got := make(chan Event, 1)
	bus.SubscribeFunc(PositionOpened, func(_ context.Context, e Event) error {
		got <- e
		return nil
	})

	require.NoError(t, bus.Publish(PositionOpenedEvent{
		BaseEvent: NewBase(PositionOpened),
		TokenMint: "mint-1",
	}))

	select {
	case e := <-got:
		opened, ok := e.(PositionOpenedEvent)
		require.True(t, ok)
		assert.Equal(t, "mint-1", opened.TokenMint)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var calls atomic.Int32
	sub := bus.SubscribeFunc(TokenDetected, func(_ context.Context, _ Event) error {
		calls.Add(1)
		return nil
	})
	sub.Unsubscribe()

	require.NoError(t, bus.PublishSync(context.Background(), TokenDetectedEvent{
		BaseEvent: NewBase(TokenDetected),
	}))
	assert.Equal(t, int32(0), calls.Load())
}

func TestPublishAfterShutdownFails(t *testing.T) {
	bus := NewBus(zap.NewNop(), 1)
	require.NoError(t, bus.Shutdown(context.Background()))

	err := bus.Publish(ConnectionStatusEvent{BaseEvent: NewBase(ConnectionStatus)})
	assert.Error(t, err)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := NewBus(zap.NewNop(), 1)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	// No subscribers, so the single dispatch goroutine may lag; fill
	// the buffer and expect an eventual drop instead of a stall.
	var dropped bool
	for i := 0; i < 100; i++ {
		if err := bus.Publish(TokenDetectedEvent{BaseEvent: NewBase(TokenDetected)}); err != nil {
			dropped = true
			break
		}
	}
	assert.True(t, dropped, "a saturated bus must drop, not block")
}
