package bus

import (
	"strings"
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Events published with PublishRetained are remembered per kind and replayed
// to every new subscriber whose namespace matches.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	next     int
	retained map[string]Event
	order    []string
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscription),
		retained: make(map[string]Event),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of event.Kind.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.fanOut(evt)
}

// PublishRetained publishes evt and keeps it as the latest value of its kind.
func (b *Bus) PublishRetained(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.retained[evt.Kind]; !ok {
		b.order = append(b.order, evt.Kind)
	}
	b.retained[evt.Kind] = evt
	b.fanOut(evt)
}

// Latest returns the retained event for kind, if any.
func (b *Bus) Latest(kind string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.retained[kind]
	return evt, ok
}

func (b *Bus) fanOut(evt Event) {
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Retained events matching the namespace are
// delivered first. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	for _, kind := range b.order {
		if !strings.HasPrefix(kind, namespace) {
			continue
		}
		select {
		case ch <- b.retained[kind]:
		default:
		}
	}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
