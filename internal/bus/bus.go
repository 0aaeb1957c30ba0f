// Package bus fans engine notifications out to in-process listeners. Event
// kinds are dotted names; a subscriber names a prefix and receives every kind
// under it.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus delivers events without ever blocking the publisher. A subscriber whose
// buffer is full misses the event; Dropped counts those misses.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	dropped atomic.Uint64
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Publish hands evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !strings.HasPrefix(evt.Kind, s.prefix) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event of the given kind stamped with the current time.
// A nil bus discards it.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe registers a listener for kinds starting with prefix. The empty
// prefix matches everything. The returned func unregisters it; the channel is
// never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	s := &subscriber{prefix: prefix, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
