// Package bus provides an internal event bus for engine notifications
package bus

import (
	"sync"
	"sync/atomic"
)

// EventType identifies different event types
type EventType string

// Event types for cortexmotion
const (
	// Avatar lifecycle
	EventTypeAvatarAdded   EventType = "avatar.added"
	EventTypeAvatarRemoved EventType = "avatar.removed"

	// Clip playback
	EventTypeClipStarted    EventType = "clip.started"
	EventTypeClipFinished   EventType = "clip.finished"
	EventTypeClipStopped    EventType = "clip.stopped"
	EventTypeClipLoadFailed EventType = "clip.load_failed"
	EventTypeClipEvicted    EventType = "clip.evicted"

	// Pose tweens
	EventTypeTweenCompleted EventType = "tween.completed"
	EventTypeTweenReverted  EventType = "tween.reverted"

	// Lip sync
	EventTypeLipSyncStarted EventType = "lipsync.started"
	EventTypeLipSyncStopped EventType = "lipsync.stopped"
	EventTypeLipSyncFailed  EventType = "lipsync.failed"

	// Control
	EventTypeCommandRejected EventType = "control.command_rejected"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	ordered  map[EventType][]*Subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
		ordered:  make(map[EventType][]*Subscription),
	}
}

// Subscription is a handler that sees events one at a time in publish order.
type Subscription struct {
	bus     *EventBus
	types   []EventType
	queue   chan Event
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// offer queues e without blocking the publisher. It reports false when the
// queue is full and e was dropped.
func (s *Subscription) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- e:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped reports how many events arrived while the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription. Events already queued are still handled.
func (s *Subscription) Close() {
	if s.bus != nil {
		s.bus.detach(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// SubscribeOrdered runs handler on a single goroutine fed by a queue of size
// buffer, so events reach it in the order they were published. Publishing
// never waits on it; events that find the queue full are dropped.
func (b *EventBus) SubscribeOrdered(eventTypes []EventType, buffer int, handler Handler) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		bus:   b,
		types: eventTypes,
		queue: make(chan Event, buffer),
	}
	go func() {
		for e := range sub.queue {
			handler(e)
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		b.ordered[et] = append(b.ordered[et], sub)
	}
	return sub
}

func (b *EventBus) detach(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range sub.types {
		subs := b.ordered[et]
		for i, s := range subs {
			if s == sub {
				b.ordered[et] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(t EventType) ([]Handler, []*Subscription) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	subs := make([]*Subscription, len(b.ordered[t]))
	copy(subs, b.ordered[t])
	return handlers, subs
}

// Publish sends an event to all subscribed handlers without waiting. It is
// safe to call on a nil bus, which drops the event.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	handlers, subs := b.snapshot(event.Type)
	for _, sub := range subs {
		sub.offer(event)
	}
	for _, handler := range handlers {
		// handlers must never stall the frame loop
		go handler(event)
	}
}

// PublishSync sends an event and waits for all plain handlers to complete.
// Ordered subscriptions only get it queued.
func (b *EventBus) PublishSync(event Event) {
	if b == nil {
		return
	}
	handlers, subs := b.snapshot(event.Type)
	for _, sub := range subs {
		sub.offer(event)
	}
	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers and closes ordered subscriptions
func (b *EventBus) Clear() {
	b.mu.Lock()
	seen := make(map[*Subscription]struct{})
	for _, subs := range b.ordered {
		for _, sub := range subs {
			seen[sub] = struct{}{}
		}
	}
	b.handlers = make(map[EventType][]Handler)
	b.ordered = make(map[EventType][]*Subscription)
	b.mu.Unlock()

	for sub := range seen {
		sub.Close()
	}
}
