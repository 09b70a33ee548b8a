package stream

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// Broadcaster publishes each value to every current subscriber: one
// upstream subscription fanned out to N observers. Subscriber queues
// are RingChannels, so a slow observer loses its oldest values
// instead of stalling the publisher.
type Broadcaster[T any] struct {
	subs     *hashmap.Map[uint64, *RingChannel[T]]
	nextID   atomic.Uint64
	capacity int
	closed   atomic.Bool

	// Guards channel closure against in-flight publishes. Publish
	// takes the read side, so concurrent publishers do not serialize
	// against each other, only against Subscribe cancellation.
	mu sync.RWMutex
}

// NewBroadcaster creates a Broadcaster whose per-subscriber buffers
// hold capacity elements.
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		panic("stream: broadcaster capacity must be > 0")
	}
	return &Broadcaster[T]{
		subs:     hashmap.New[uint64, *RingChannel[T]](),
		capacity: capacity,
	}
}

// Subscribe registers a new observer. The returned cancel function
// removes the observer and closes its channel; it is safe to call
// more than once.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	id := b.nextID.Add(1)
	rc := NewRingChannel[T](b.capacity)
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		rc.Close()
		return rc.C(), func() {}
	}
	b.subs.Set(id, rc)
	b.mu.Unlock()

	var cancelled atomic.Bool
	cancel := func() {
		if cancelled.CompareAndSwap(false, true) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs.Get(id); ok {
				b.subs.Del(id)
				rc.Close()
			}
		}
	}
	return rc.C(), cancel
}

// Publish delivers v to all current subscribers. Publishing after
// Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) {
	if b.closed.Load() {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.subs.Range(func(_ uint64, rc *RingChannel[T]) bool {
		rc.Send(v)
		return true
	})
}

// Close completes every subscriber channel and rejects further
// publishes.
func (b *Broadcaster[T]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs.Range(func(id uint64, rc *RingChannel[T]) bool {
		b.subs.Del(id)
		rc.Close()
		return true
	})
}

// Len returns the current subscriber count.
func (b *Broadcaster[T]) Len() int {
	return b.subs.Len()
}
