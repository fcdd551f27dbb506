package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbracero/fresco/pkg/schema"
)

func recvEvent(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got, ok := <-ch:
		require.True(t, ok, "channel closed while waiting for an event")
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func assertQuiet(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryHub_CatchAllReceivesEveryRun(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", NodeID: "n1", EventType: schema.EventNodeSucceeded}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", EventType: schema.EventRunStarted}))

	first := recvEvent(t, ch)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "n1", first.NodeID)
	second := recvEvent(t, ch)
	assert.Equal(t, "run-2", second.RunID)
}

func TestMemoryHub_RunBucketIsolation(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", EventType: schema.EventNodeStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventNodeStarted}))

	got := recvEvent(t, ch)
	assert.Equal(t, "run-1", got.RunID)
	assertQuiet(t, ch)
}

func TestMemoryHub_EventTypeAllowlist(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		RunID:      "run-1",
		EventTypes: []string{schema.EventNodeSucceeded, schema.EventRunFailed},
	})
	require.NoError(t, err)
	defer cancel()

	for _, et := range []string{schema.EventNodeSucceeded, schema.EventNodeStarted, schema.EventRunFailed} {
		require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: et}))
	}

	assert.Equal(t, schema.EventNodeSucceeded, recvEvent(t, ch).EventType)
	assert.Equal(t, schema.EventRunFailed, recvEvent(t, ch).EventType)
	assertQuiet(t, ch)
}

func TestMemoryHub_FanOut(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	chScoped, cancelScoped, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancelScoped()

	chAll, cancelAll, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancelAll()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventNodeSucceeded}))

	for _, ch := range []<-chan StreamEvent{chScoped, chAll} {
		got := recvEvent(t, ch)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, schema.EventNodeSucceeded, got.EventType)
	}
}

func TestMemoryHub_CancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)

	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok, "cancel must close the subscriber channel")

	// The run bucket is gone; publishing reaches nobody.
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "tick"}))

	hub.mu.RLock()
	assert.Empty(t, hub.byRun)
	hub.mu.RUnlock()
}

func TestMemoryHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Overflow the buffer; publishing must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "tick"}))
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, drained)
}

func TestMemoryHub_ConcurrentPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{RunID: "run-hot", EventType: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-hot"})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
}

func TestMemoryHub_CancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "tick"}), context.Canceled)

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
