package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish("refresh.completed", map[string]int{"refreshed": 3})

	select {
	case event := <-ch:
		assert.Equal(t, "refresh.completed", event.Type)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()

	require.Equal(t, 1, bus.SubscriberCount())
	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	// Publishing to no subscribers is a no-op.
	bus.Publish("refresh.completed", nil)

	// Double unsubscribe is safe.
	unsubscribe()
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	// Overfill the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish("tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	assert.LessOrEqual(t, len(ch), 16)
}
