package event

import "sync"

// DefaultBuffer is the subscriber channel capacity used when Subscribe is
// called with a non-positive buffer.
const DefaultBuffer = 64

// Filter selects which events a subscriber receives. A nil filter accepts
// everything.
type Filter func(Event) bool

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose channel is full misses the event. A nil *Bus discards everything,
// so components can publish unconditionally.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: map[int]*subscriber{}}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes the channel. The function may be called more than once.
func (b *Bus) Subscribe(buffer int, filter Filter) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer), filter: filter}

	if b == nil {
		close(s.ch)
		return s.ch, func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to every interested subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later Publish calls are dropped
// and later subscribers get a closed channel.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
