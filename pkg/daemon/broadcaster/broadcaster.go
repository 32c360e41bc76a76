// Package broadcaster fans out daemon activity events to subscribers.
package broadcaster

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of daemon event.
type EventType int

const (
	EventScanCompleted EventType = iota
	EventReconciled
	EventEvicted
	EventVerified
	EventRootChanged
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventScanCompleted:
		return "scan"
	case EventReconciled:
		return "reconcile"
	case EventEvicted:
		return "evict"
	case EventVerified:
		return "verify"
	case EventRootChanged:
		return "root"
	default:
		return "unknown"
	}
}

// Event describes something the daemon finished doing.
type Event struct {
	Type    EventType
	Time    time.Time
	Summary string

	// Detail is the result value that produced the event, e.g. a
	// *types.ScanResult.
	Detail any
}

// Subscriber represents a consumer of daemon events.
type Subscriber struct {
	ID     string
	Types  map[EventType]bool
	Events chan *Event
}

// Broadcaster manages subscribers and distributes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe creates a new subscription. With no types, every event is
// delivered.
func (b *Broadcaster) Subscribe(types ...EventType) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan *Event, 100),
	}
	if len(types) > 0 {
		sub.Types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.Types[t] = true
		}
	}

	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish sends an event to all matching subscribers. Subscribers that are
// not keeping up miss events rather than block the publisher.
func (b *Broadcaster) Publish(eventType EventType, summary string, detail any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	event := &Event{Type: eventType, Time: time.Now(), Summary: summary, Detail: detail}
	for _, sub := range b.subscribers {
		if sub.Types != nil && !sub.Types[eventType] {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			// Channel full, event dropped
		}
	}
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
