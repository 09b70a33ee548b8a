package presenter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventCollectorValidation(t *testing.T) {
	_, err := NewEventCollector(nil, 16)
	assert.Error(t, err, "nil channel must be rejected")

	ch := make(chan Event)
	_, err = NewEventCollector(ch, 0)
	assert.Error(t, err, "zero buffer must be rejected")

	_, err = NewEventCollector(ch, 1<<21)
	assert.Error(t, err, "oversized buffer must be rejected")

	c, err := NewEventCollector(ch, 16)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestEventCollectorCollectsInOrder(t *testing.T) {
	ch := make(chan Event, 8)
	c, err := NewEventCollector(ch, 16)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	sent := []Event{
		InfoEvent{Message: "one"},
		ResultEvent{Op: OpRead, Data: []byte{0x01}},
		InfoEvent{Message: "three"},
	}
	for _, ev := range sent {
		ch <- ev
	}

	require.Eventually(t, func() bool {
		return c.Metrics().Processed() == int64(len(sent))
	}, testTimeout, time.Millisecond)

	require.NoError(t, c.Stop())

	var drained []Event
	n, err := c.Drain(func(ev Event) { drained = append(drained, ev) })
	require.NoError(t, err)
	assert.Equal(t, len(sent), n)
	assert.Equal(t, sent, drained)
	assert.Zero(t, c.Metrics().Overwritten())
}

func TestEventCollectorStartStopStateMachine(t *testing.T) {
	ch := make(chan Event)
	c, err := NewEventCollector(ch, 16)
	require.NoError(t, err)

	require.NoError(t, c.Stop(), "stopping an idle collector is a no-op")

	require.NoError(t, c.Start())
	assert.Error(t, c.Start(), "double start must fail")
	require.NoError(t, c.Stop())

	// A stopped collector can be restarted.
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
}

func TestEventCollectorOverwritesOldestOnOverflow(t *testing.T) {
	const total = 20

	ch := make(chan Event, total)
	c, err := NewEventCollector(ch, 4)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	var last Event
	for i := 0; i < total; i++ {
		last = InfoEvent{Message: fmt.Sprintf("event %d", i)}
		ch <- last
	}

	require.Eventually(t, func() bool {
		return c.Metrics().Processed() == int64(total)
	}, testTimeout, time.Millisecond)
	require.NoError(t, c.Stop())

	var drained []Event
	n, err := c.Drain(func(ev Event) { drained = append(drained, ev) })
	require.NoError(t, err)

	overwritten := c.Metrics().Overwritten()
	assert.Positive(t, overwritten, "a full ring must overwrite")
	assert.Equal(t, int64(total), int64(n)+overwritten,
		"every event is either retained or counted as overwritten")
	require.NotEmpty(t, drained)
	assert.Equal(t, last, drained[len(drained)-1], "history keeps the most recent events")
}

func TestEventCollectorStopsWhenChannelCloses(t *testing.T) {
	ch := make(chan Event, 1)
	c, err := NewEventCollector(ch, 8)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	ch <- InfoEvent{Message: "final"}
	close(ch)

	require.Eventually(t, func() bool {
		// The goroutine drains the channel and returns to idle, after
		// which a fresh Start is accepted.
		return c.Start() == nil
	}, testTimeout, time.Millisecond)
	require.NoError(t, c.Stop())
}
