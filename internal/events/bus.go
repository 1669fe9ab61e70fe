// Package events provides the broadcast bus behind the read-only observer
// feed. Observers (dashboards, the SSE endpoint) tolerate loss, so regular
// subscriptions drop oldest under pressure; terminal lifecycle events can be
// published on the priority path, which blocks instead of dropping. The
// client-facing status relay never goes through this bus.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all observer events.
type Event interface {
	EventType() string
	ExecutionID() string
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type      string    `json:"type"`
	Execution string    `json:"execution_id"`
	Time      time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) ExecutionID() string  { return e.Execution }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBaseEvent creates a new base event stamped with the current time.
func NewBaseEvent(eventType, executionID string) BaseEvent {
	return BaseEvent{Type: eventType, Execution: executionID, Time: time.Now()}
}

type subscriber struct {
	ch       chan Event
	types    map[string]bool // empty means all types
	priority bool
}

// Bus is a pub/sub fan-out with per-subscriber buffers.
type Bus struct {
	mu           sync.RWMutex
	subs         []*subscriber
	prioritySubs []*subscriber
	bufferSize   int
	dropped      atomic.Int64
	closed       bool
}

// New creates a bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving the given event types (all types if
// none given). The subscription may drop events when its buffer is full.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:    make(chan Event, b.bufferSize),
		types: make(map[string]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subs = append(b.subs, sub)
	return sub.ch
}

// SubscribePriority returns a channel that never drops. Publishers of
// priority events block until the subscriber keeps up.
func (b *Bus) SubscribePriority() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:       make(chan Event, 50),
		types:    make(map[string]bool),
		priority: true,
	}
	b.prioritySubs = append(b.prioritySubs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = remove(b.subs, ch)
	b.prioritySubs = remove(b.prioritySubs, ch)
}

func remove(subs []*subscriber, ch <-chan Event) []*subscriber {
	result := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub.ch != ch {
			result = append(result, sub)
		} else {
			close(sub.ch)
		}
	}
	return result
}

// Publish sends an event to matching regular subscribers, dropping the
// oldest buffered event when a subscriber is full.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.fanOut(event)
}

// PublishPriority additionally delivers to priority subscribers, blocking
// until each one accepts. Use for terminal lifecycle events.
func (b *Bus) PublishPriority(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.fanOut(event)
	for _, sub := range b.prioritySubs {
		sub.ch <- event
	}
}

func (b *Bus) fanOut(event Event) {
	eventType := event.EventType()
	for _, sub := range b.subs {
		if len(sub.types) != 0 && !sub.types[eventType] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Full: drop the oldest and retry once.
			select {
			case <-sub.ch:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	for _, sub := range b.prioritySubs {
		close(sub.ch)
	}
	b.subs = nil
	b.prioritySubs = nil
}
