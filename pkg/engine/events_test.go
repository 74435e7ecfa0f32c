package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/pkg/engine"
)

func TestEventBus_DeliversInOrder(t *testing.T) {
	bus := engine.NewEventBus(nil)

	var mu sync.Mutex
	var received []string
	unsubscribe := bus.Subscribe(func(_ context.Context, ev *engine.Event) {
		mu.Lock()
		received = append(received, string(ev.Type))
		mu.Unlock()
	}, 0)
	defer unsubscribe()

	bus.Emit(&engine.Event{Type: engine.EventRunStarted})
	bus.Emit(&engine.Event{Type: engine.EventCheckStarted})
	bus.Emit(&engine.Event{Type: engine.EventRunCompleted})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"run.started", "check.started", "run.completed"}, received)
}

func TestEventBus_DropOldestOnSaturation(t *testing.T) {
	bus := engine.NewEventBus(nil)

	block := make(chan struct{})
	bus.Subscribe(func(_ context.Context, ev *engine.Event) {
		<-block // never returns until the test releases it
	}, 2)

	// Queue size 2: the first event is consumed into the blocked call, so
	// two more fill the queue, and a third must evict the oldest queued one.
	for i := 0; i < 5; i++ {
		bus.Emit(&engine.Event{Type: engine.EventCheckStarted})
	}

	require.Eventually(t, func() bool {
		return bus.DroppedCount() > 0
	}, time.Second, time.Millisecond)

	close(block)
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := engine.NewEventBus(nil)

	var count int
	var mu sync.Mutex
	unsubscribe := bus.Subscribe(func(_ context.Context, ev *engine.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 0)

	bus.Emit(&engine.Event{Type: engine.EventRunStarted})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Emit(&engine.Event{Type: engine.EventRunStarted})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no further events should be delivered after unsubscribe")
}
