package presenter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Collector states.
const (
	collectorIdle uint32 = iota
	collectorRunning
	collectorStopping
)

// maxCollectorBuffer guards against accidental misconfiguration.
const maxCollectorBuffer uint32 = 1 << 20

// CollectorMetrics counts collector activity. All fields are updated
// atomically.
type CollectorMetrics struct {
	processed   atomic.Int64
	overwritten atomic.Int64
}

// Processed returns the number of events stored so far.
func (m *CollectorMetrics) Processed() int64 { return m.processed.Load() }

// Overwritten returns the number of events lost to buffer overflow.
func (m *CollectorMetrics) Overwritten() int64 { return m.overwritten.Load() }

// EventCollector drains a presenter event channel into a bounded
// ring buffer so a consumer can inspect recent history after the
// fact. When the buffer overflows, the oldest events are overwritten
// and counted. All methods are safe for concurrent use.
type EventCollector struct {
	events  <-chan Event
	buffer  mpmc.RichOverlappedRingBuffer[Event]
	stop    chan struct{}
	done    chan struct{}
	state   uint32
	metrics CollectorMetrics
}

// NewEventCollector creates a collector reading from events with a
// ring buffer of the given size.
func NewEventCollector(events <-chan Event, bufferSize uint32) (*EventCollector, error) {
	if events == nil {
		return nil, fmt.Errorf("event channel cannot be nil")
	}
	if bufferSize == 0 || bufferSize > maxCollectorBuffer {
		return nil, fmt.Errorf("buffer size must be in 1..%d, got %d", maxCollectorBuffer, bufferSize)
	}
	return &EventCollector{
		events: events,
		buffer: mpmc.NewOverlappedRingBuffer[Event](bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start begins collecting. Returns an error if the collector is
// already running or still stopping.
func (c *EventCollector) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, collectorIdle, collectorRunning) {
		switch atomic.LoadUint32(&c.state) {
		case collectorRunning:
			return fmt.Errorf("collector already running")
		default:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		}
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, collectorIdle)
		}()
		for {
			select {
			case <-c.stop:
				return
			case ev, ok := <-c.events:
				if !ok {
					return
				}
				overwrites, err := c.buffer.EnqueueM(ev)
				if err != nil {
					// The overlapped buffer overwrites instead of
					// rejecting, so an enqueue error is unexpected.
					return
				}
				c.metrics.overwritten.Add(int64(overwrites))
				c.metrics.processed.Add(1)
			}
		}
	}()
	return nil
}

// Stop halts collection and waits for the collector goroutine to
// exit. Stopping an idle collector is a no-op.
func (c *EventCollector) Stop() error {
	if atomic.CompareAndSwapUint32(&c.state, collectorRunning, collectorStopping) {
		close(c.stop)
	} else if atomic.LoadUint32(&c.state) == collectorIdle {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("collector stop exceeded 5s")
	}
}

// Metrics exposes the collector counters.
func (c *EventCollector) Metrics() *CollectorMetrics {
	return &c.metrics
}

// Drain removes all buffered events and passes each to fn in order.
// Returns the number of events drained.
func (c *EventCollector) Drain(fn func(Event)) (int, error) {
	n := 0
	for !c.buffer.IsEmpty() {
		ev, err := c.buffer.Dequeue()
		if err != nil {
			return n, fmt.Errorf("buffer dequeue failed: %w", err)
		}
		fn(ev)
		n++
	}
	return n, nil
}
