package events

import (
	"sync"

	"circlefi/core/types"
)

const defaultSubscriberBuffer = 64

// Bus fans committed events out to live subscribers. Emit never blocks: a
// subscriber whose buffer is full is dropped and its channel closed, and it is
// expected to reconnect from its last sequence number.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]chan *types.Event
	nextID uint64
	buffer int
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Bus{subs: make(map[uint64]chan *types.Event), buffer: buffer}
}

// Emit implements Emitter.
func (b *Bus) Emit(evt Event) {
	payload, ok := evt.(Payload)
	if !ok || payload.Event() == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- payload.Event().Clone():
		default:
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function is safe to
// call more than once.
func (b *Bus) Subscribe() (<-chan *types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	ch := make(chan *types.Event, b.buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			close(existing)
			delete(b.subs, id)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
