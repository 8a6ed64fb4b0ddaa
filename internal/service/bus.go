// Package service carries widget events between the HTTP handlers that
// cause them and the instance streams that push them to browsers.
package service

import (
	"context"
	"sync"
)

// EventKind classifies an Event.
type EventKind string

const (
	// EventRefresh asks every matching instance to rebuild and re-apply its
	// configuration.
	EventRefresh EventKind = "refresh"
	// EventOpenForm asks an instance to show the marker creation form.
	EventOpenForm EventKind = "open-form"
	// EventNotify carries a user-facing notification.
	EventNotify EventKind = "notify"
)

// Event is a widget-level signal.
type Event struct {
	Kind     EventKind `json:"kind"`
	Widget   string    `json:"widget"`
	Instance string    `json:"instance,omitempty"` // empty targets every instance of Widget
	Message  string    `json:"message,omitempty"`
}

// Matches reports whether the event is addressed to an instance.
func (e Event) Matches(widget, instance string) bool {
	if e.Widget != widget {
		return false
	}
	return e.Instance == "" || e.Instance == instance
}

// Bus fans events out to subscribers.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe() chan Event
	Unsubscribe(ch chan Event)
}

// EventBus is a simple in-process fan-out pub/sub.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

var _ Bus = (*EventBus)(nil)

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
	return nil
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// DefaultBus is the package-level event bus.
var DefaultBus = NewEventBus()
