package streaming

import (
	"context"
	"slices"
	"sync"
)

const subscriberBuffer = 64

// subscription is one subscriber's channel plus its event-type allowlist.
// An empty allowlist admits every type.
type subscription struct {
	ch    chan StreamEvent
	types []string
}

func (s *subscription) wants(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// MemoryHub fans events out in-process. Subscriptions are bucketed by run
// ID, so publishing touches only the event's run bucket plus the catch-all
// bucket instead of scanning every subscriber.
type MemoryHub struct {
	mu    sync.RWMutex
	next  uint64
	byRun map[string]map[uint64]*subscription // "" is the catch-all bucket
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{byRun: make(map[string]map[uint64]*subscription)}
}

// Publish delivers an event to matching subscribers without blocking: a
// subscriber whose buffer is full misses the event rather than stalling
// the run that produced it.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver(h.byRun[event.RunID], event)
	if event.RunID != "" {
		deliver(h.byRun[""], event)
	}
	return nil
}

func deliver(bucket map[uint64]*subscription, event StreamEvent) {
	for _, sub := range bucket {
		if !sub.wants(event.EventType) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe registers a subscriber for the filter and returns its channel
// and a cancel function. Cancelling removes the subscriber and closes the
// channel, so a range over it terminates.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		ch:    make(chan StreamEvent, subscriberBuffer),
		types: filter.EventTypes,
	}

	h.mu.Lock()
	h.next++
	id := h.next
	bucket := h.byRun[filter.RunID]
	if bucket == nil {
		bucket = make(map[uint64]*subscription)
		h.byRun[filter.RunID] = bucket
	}
	bucket[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.byRun[filter.RunID], id)
			if len(h.byRun[filter.RunID]) == 0 {
				delete(h.byRun, filter.RunID)
			}
			h.mu.Unlock()
			// Publish sends under the read lock, so nothing can race
			// this close once the subscription is removed.
			close(sub.ch)
		})
	}
	return sub.ch, cancel, nil
}
