package presenter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattmux/internal/gatt"
	"github.com/srg/gattmux/internal/testutils"
)

// gatedDevice blocks connection attempts until the gate is opened,
// giving tests a deterministic window to abort.
type gatedDevice struct {
	inner gatt.Device
	gate  chan struct{}
}

func (d *gatedDevice) Address() string { return d.inner.Address() }

func (d *gatedDevice) Connect(ctx context.Context) (gatt.Conn, error) {
	select {
	case <-d.gate:
		return d.inner.Connect(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func startDriver(t *testing.T, device gatt.Device) (<-chan Event, *testTriggers, context.CancelFunc) {
	t.Helper()
	h := testutils.NewTestHelper(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tt := newTestTriggers()
	events := NewDriver(device, "2a37", h.Logger).Run(ctx, tt.triggers())
	return events, tt, cancel
}

func TestDriverSessionLifecycle(t *testing.T) {
	h := testutils.NewTestHelper(t)
	peripheral := heartRatePeripheral("read", testutils.WithValue([]byte{0x60})).Build(h.Logger)
	events, tt, _ := startDriver(t, peripheral)

	tt.connect <- struct{}{}

	info, ok := recvEvent(t, events).(InfoEvent)
	require.True(t, ok, "first session event must be the connection info")
	assert.Equal(t, "Connection with AA:BB:CC:DD:EE:FF has been established", info.Message)

	_, ok = recvEvent(t, events).(CompatibilityModeEvent)
	require.True(t, ok, "compatibility notice follows the connection info")

	tt.read <- struct{}{}
	assert.Equal(t, ResultEvent{Op: OpRead, Data: []byte{0x60}}, recvEvent(t, events))

	conn := peripheral.LastConn()
	tt.disconnect <- struct{}{}
	require.Eventually(t, conn.Closed, testTimeout, time.Millisecond,
		"disconnect must close the connection")

	// The cycle restarts: a new connect opens a fresh session.
	tt.connect <- struct{}{}
	info, ok = recvEvent(t, events).(InfoEvent)
	require.True(t, ok)
	assert.Contains(t, info.Message, "has been established")
	assert.Equal(t, 2, peripheral.ConnectCount())
}

func TestDriverConnectFailureReportsAndRestarts(t *testing.T) {
	h := testutils.NewTestHelper(t)
	peripheral := testutils.NewPeripheral("AA:BB:CC:DD:EE:FF").
		WithConnectError(errors.New("connection timed out")).
		Build(h.Logger)
	events, tt, _ := startDriver(t, peripheral)

	tt.connect <- struct{}{}
	info, ok := recvEvent(t, events).(InfoEvent)
	require.True(t, ok, "connection failure surfaces as an info event")
	assert.True(t, strings.HasPrefix(info.Message, "Connection error:"), info.Message)
	assert.Contains(t, info.Message, "connection timed out")

	// The failed session completes and the driver waits for the next
	// connect rather than retrying on its own.
	assertNoEvent(t, events)

	tt.connect <- struct{}{}
	info, ok = recvEvent(t, events).(InfoEvent)
	require.True(t, ok)
	assert.Contains(t, info.Message, "Connection error:")
	assert.Equal(t, 2, peripheral.ConnectCount())
}

func TestDriverDiscoveryFailureReportsAndRestarts(t *testing.T) {
	h := testutils.NewTestHelper(t)
	peripheral := testutils.NewPeripheral("AA:BB:CC:DD:EE:FF").
		WithDiscoveryError(errors.New("gatt timeout")).
		Build(h.Logger)
	events, tt, _ := startDriver(t, peripheral)

	tt.connect <- struct{}{}
	info, ok := recvEvent(t, events).(InfoEvent)
	require.True(t, ok)
	assert.Contains(t, info.Message, "Connection error:")
	assert.Contains(t, info.Message, "service discovery failed")

	// The failed session still releases its connection.
	require.Eventually(t, peripheral.LastConn().Closed, testTimeout, time.Millisecond)
}

func TestDriverCancelConnectAbortsSilently(t *testing.T) {
	h := testutils.NewTestHelper(t)
	inner := heartRatePeripheral("read").Build(h.Logger)
	device := &gatedDevice{inner: inner, gate: make(chan struct{})}
	events, tt, _ := startDriver(t, device)

	tt.connect <- struct{}{}
	tt.cancelConnect <- struct{}{}

	// Aborting before the session produced anything emits nothing.
	assertNoEvent(t, events)

	// Open the gate; the next connect proceeds normally.
	close(device.gate)
	tt.connect <- struct{}{}
	info, ok := recvEvent(t, events).(InfoEvent)
	require.True(t, ok)
	assert.Contains(t, info.Message, "has been established")
}

func TestDriverStopsWhenContextCancelled(t *testing.T) {
	h := testutils.NewTestHelper(t)
	peripheral := heartRatePeripheral("read").Build(h.Logger)
	events, tt, cancel := startDriver(t, peripheral)

	tt.connect <- struct{}{}
	recvEvent(t, events) // connection info
	recvEvent(t, events) // compatibility notice

	cancel()
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-time.After(testTimeout):
			t.Fatal("event stream did not complete after context cancellation")
		}
	}
}
