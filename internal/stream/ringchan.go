package stream

import "sync/atomic"

// RingChannel is a bounded channel with overwrite-oldest semantics:
// when the buffer is full the oldest element is discarded so that
// producers never block. Readers either range over C() like a normal
// channel or use Receive/TryReceive, which also track metrics.
type RingChannel[T any] struct {
	ch      chan T
	metrics RingMetrics
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("stream: ring channel capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Reads through C()
// bypass the Processed counter.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered element if the
// channel is full. It never blocks indefinitely.
func (rc *RingChannel[T]) Send(v T) {
	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
	default:
		select {
		case <-rc.ch:
			rc.metrics.overwritten.Add(1)
		default:
			// A reader drained the buffer between the two selects.
		}
		rc.ch <- v
		rc.metrics.written.Add(1)
	}
}

// TrySend inserts v only if buffer space is available.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.processed.Add(1)
	}
	return
}

// TryReceive performs a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.processed.Add(1)
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the underlying channel. Sends after Close panic.
func (rc *RingChannel[T]) Close() { close(rc.ch) }

// Metrics returns a snapshot of the channel counters.
func (rc *RingChannel[T]) Metrics() RingMetricsSnapshot {
	return RingMetricsSnapshot{
		Written:     rc.metrics.written.Load(),
		Overwritten: rc.metrics.overwritten.Load(),
		Processed:   rc.metrics.processed.Load(),
	}
}

// RingMetrics tracks RingChannel activity with atomic counters.
type RingMetrics struct {
	written     atomic.Int64
	overwritten atomic.Int64
	processed   atomic.Int64
}

// RingMetricsSnapshot is a point-in-time copy of RingMetrics.
type RingMetricsSnapshot struct {
	Written     int64
	Overwritten int64
	Processed   int64
}
