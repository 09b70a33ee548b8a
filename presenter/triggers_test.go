package presenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerFireWithoutConsumerIsDropped(t *testing.T) {
	s := NewTriggerSource()
	assert.False(t, s.Connect())
	assert.False(t, s.Read())
	assert.False(t, s.EnableNotify())
	assert.False(t, s.DisableIndicate())
}

func TestTriggerFireReachesConsumer(t *testing.T) {
	s := NewTriggerSource()
	triggers := s.Triggers()

	got := make(chan struct{})
	go func() {
		<-triggers.Read
		close(got)
	}()

	// The consumer goroutine may not be receiving yet; retry like a
	// user tapping a control.
	deadline := time.Now().Add(testTimeout)
	for !s.Read() {
		if time.Now().After(deadline) {
			t.Fatal("trigger never reached the consumer")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-got:
	case <-time.After(testTimeout):
		t.Fatal("consumer did not observe the trigger")
	}
}

func TestWriteTriggerQueuesPayloads(t *testing.T) {
	s := NewTriggerSource()
	triggers := s.Triggers()

	// Writes queue even with no consumer attached.
	s.Write([]byte{0x01})
	s.Write([]byte{0x02})

	select {
	case data := <-triggers.Write:
		assert.Equal(t, []byte{0x01}, data)
	case <-time.After(testTimeout):
		t.Fatal("queued write was not delivered")
	}
	select {
	case data := <-triggers.Write:
		assert.Equal(t, []byte{0x02}, data)
	case <-time.After(testTimeout):
		t.Fatal("queued write was not delivered")
	}
}

func TestTriggersViewIsWiredToSource(t *testing.T) {
	s := NewTriggerSource()
	triggers := s.Triggers()
	require.NotNil(t, triggers.Connect)
	require.NotNil(t, triggers.CancelConnect)
	require.NotNil(t, triggers.Disconnect)
	require.NotNil(t, triggers.Read)
	require.NotNil(t, triggers.Write)
	require.NotNil(t, triggers.EnableNotify)
	require.NotNil(t, triggers.CancelNotify)
	require.NotNil(t, triggers.DisableNotify)
	require.NotNil(t, triggers.EnableIndicate)
	require.NotNil(t, triggers.CancelIndicate)
	require.NotNil(t, triggers.DisableIndicate)
}
