// Package broadcast provides typed fan-out channels. Latest replays the most
// recent value to every new subscriber; Feed delivers only values published
// after subscription.
package broadcast

import (
	"context"
	"sync"
)

const defaultBuffer = 16

// hub tracks subscriber channels keyed by id.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	buffer int
	closed bool
	done   chan struct{}
}

func (h *hub[T]) init(buffer int) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h.subs = make(map[uint64]chan T)
	h.buffer = buffer
	h.done = make(chan struct{})
}

// add registers a channel and removes it when ctx ends. Callers hold mu.
func (h *hub[T]) add(ctx context.Context) (uint64, chan T) {
	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return 0, ch
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.remove(id)
			case <-h.done:
			}
		}()
	}
	return id, ch
}

func (h *hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Latest holds a current value and broadcasts every change. A subscriber
// whose buffer is full loses its oldest pending value, never the newest.
type Latest[T any] struct {
	hub[T]
	value T
}

// NewLatest returns a Latest seeded with initial.
func NewLatest[T any](initial T, buffer int) *Latest[T] {
	l := &Latest[T]{value: initial}
	l.init(buffer)
	return l
}

// Get returns the current value.
func (l *Latest[T]) Get() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Set stores v and delivers it to every subscriber.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.value = v
	for _, ch := range l.subs {
		pushLatest(ch, v)
	}
}

// Subscribe returns a channel that first yields the current value and then
// every subsequent one. The channel closes when ctx ends or on Close.
func (l *Latest[T]) Subscribe(ctx context.Context) <-chan T {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ch := l.add(ctx)
	if !l.closed {
		ch <- l.value
	}
	return ch
}

// Close closes every subscriber channel. Later Sets are ignored.
func (l *Latest[T]) Close() { l.closeAll() }

// pushLatest sends v, evicting the oldest buffered value when full. Only the
// publisher sends, under the hub lock, so the second send cannot block.
func pushLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Feed broadcasts events without replay. Slow subscribers miss events.
type Feed[T any] struct {
	hub[T]
	dropped uint64
}

// NewFeed returns a Feed whose subscribers buffer up to buffer events.
func NewFeed[T any](buffer int) *Feed[T] {
	f := &Feed[T]{}
	f.init(buffer)
	return f
}

// Publish delivers v to every subscriber that has room.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			f.dropped++
		}
	}
}

// Subscribe returns a channel receiving events published from now on.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ch := f.add(ctx)
	return ch
}

// Dropped reports how many deliveries were skipped for full subscribers.
func (f *Feed[T]) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Subscribers reports the number of live subscriptions.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close closes every subscriber channel.
func (f *Feed[T]) Close() { f.closeAll() }
