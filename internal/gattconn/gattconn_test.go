package gattconn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattmux/internal/gatt"
)

func TestCharacteristicPropertyMapping(t *testing.T) {
	tests := []struct {
		name     string
		ble      ble.Property
		expected gatt.Property
	}{
		{"read", ble.CharRead, gatt.PropertyRead},
		{"write", ble.CharWrite, gatt.PropertyWrite},
		{"write without response", ble.CharWriteNR, gatt.PropertyWriteWithoutResponse},
		{"notify", ble.CharNotify, gatt.PropertyNotify},
		{"indicate", ble.CharIndicate, gatt.PropertyIndicate},
		{"broadcast", ble.CharBroadcast, gatt.PropertyBroadcast},
		{
			"combined",
			ble.CharRead | ble.CharNotify | ble.CharIndicate,
			gatt.PropertyRead | gatt.PropertyNotify | gatt.PropertyIndicate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := ble.NewCharacteristic(ble.MustParse("2a37"))
			bc.Property = tt.ble
			c := &characteristic{ble: bc}
			assert.Equal(t, tt.expected, c.Properties())
		})
	}
}

func TestCharacteristicUUIDIsNormalized(t *testing.T) {
	bc := ble.NewCharacteristic(ble.MustParse("2A37"))
	c := &characteristic{ble: bc}
	assert.Equal(t, "2a37", c.UUID())
}

func TestHasClientConfig(t *testing.T) {
	t.Run("no descriptors", func(t *testing.T) {
		bc := ble.NewCharacteristic(ble.MustParse("2a37"))
		c := &characteristic{ble: bc}
		assert.False(t, c.HasClientConfig())
	})

	t.Run("cccd field set", func(t *testing.T) {
		bc := ble.NewCharacteristic(ble.MustParse("2a37"))
		bc.CCCD = ble.NewDescriptor(ble.MustParse("2902"))
		c := &characteristic{ble: bc}
		assert.True(t, c.HasClientConfig())
	})

	t.Run("short form descriptor", func(t *testing.T) {
		bc := ble.NewCharacteristic(ble.MustParse("2a37"))
		bc.Descriptors = []*ble.Descriptor{ble.NewDescriptor(ble.MustParse("2902"))}
		c := &characteristic{ble: bc}
		assert.True(t, c.HasClientConfig())
	})

	t.Run("long form descriptor", func(t *testing.T) {
		bc := ble.NewCharacteristic(ble.MustParse("2a37"))
		bc.Descriptors = []*ble.Descriptor{
			ble.NewDescriptor(ble.MustParse(gatt.ClientCharacteristicConfigUUID)),
		}
		c := &characteristic{ble: bc}
		assert.True(t, c.HasClientConfig())
	})

	t.Run("unrelated descriptor", func(t *testing.T) {
		bc := ble.NewCharacteristic(ble.MustParse("2a37"))
		bc.Descriptors = []*ble.Descriptor{ble.NewDescriptor(ble.MustParse("2901"))}
		c := &characteristic{ble: bc}
		assert.False(t, c.HasClientConfig())
	})
}

func buildProfile(services map[string][]string, order []string) *profile {
	svcs := orderedmap.New[string, *service]()
	for _, svcUUID := range order {
		svc := &service{uuid: svcUUID, chars: orderedmap.New[string, *characteristic]()}
		for _, charUUID := range services[svcUUID] {
			bc := ble.NewCharacteristic(ble.MustParse(charUUID))
			svc.chars.Set(gatt.NormalizeUUID(bc.UUID.String()), &characteristic{ble: bc})
		}
		svcs.Set(svcUUID, svc)
	}
	return &profile{services: svcs}
}

func TestProfileCharacteristicLookup(t *testing.T) {
	p := buildProfile(map[string][]string{
		"180d": {"2a37"},
		"180f": {"2a19"},
	}, []string{"180d", "180f"})

	char, err := p.Characteristic("2A37")
	require.NoError(t, err)
	assert.Equal(t, "2a37", char.UUID())

	char, err = p.Characteristic("2a19")
	require.NoError(t, err)
	assert.Equal(t, "2a19", char.UUID())

	_, err = p.Characteristic("2a38")
	require.Error(t, err)
	var notFound *gatt.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

// fakeClient stubs the subscription surface of ble.Client; unrelated
// promoted methods panic if reached.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	handler      ble.NotificationHandler
	unsubscribed bool
}

func (f *fakeClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	return nil
}

func (f *fakeClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return nil
}

// fire invokes the registered notification handler the way the
// transport would, from an arbitrary goroutine.
func (f *fakeClient) fire(data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (f *fakeClient) didUnsubscribe() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func newFakeConn(client ble.Client) *Conn {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Conn{
		client: client,
		addr:   "AA:BB:CC:DD:EE:FF",
		opts:   DefaultOptions(),
		logger: logger,
	}
}

func TestSubscriptionDeliversValues(t *testing.T) {
	client := &fakeClient{}
	conn := newFakeConn(client)
	char := &characteristic{ble: ble.NewCharacteristic(ble.MustParse("2a37"))}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outer, err := conn.SetupNotification(ctx, char, gatt.SetupDefault)
	require.NoError(t, err)

	vs := <-outer
	client.fire([]byte{0x01})
	select {
	case data := <-vs:
		assert.Equal(t, []byte{0x01}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestLateNotificationAfterTeardownIsDropped(t *testing.T) {
	client := &fakeClient{}
	conn := newFakeConn(client)
	char := &characteristic{ble: ble.NewCharacteristic(ble.MustParse("2a37"))}

	ctx, cancel := context.WithCancel(context.Background())
	outer, err := conn.SetupIndication(ctx, char, gatt.SetupDefault)
	require.NoError(t, err)

	vs := <-outer
	cancel()

	// Teardown closes the outer channel after unsubscribing.
	select {
	case _, ok := <-outer:
		require.False(t, ok, "outer channel must close on cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not released")
	}
	assert.True(t, client.didUnsubscribe())

	// A notification racing the unsubscribe must be discarded, not
	// sent into the closed value stream.
	assert.NotPanics(t, func() { client.fire([]byte{0x02}) })

	if _, ok := <-vs; ok {
		// Values buffered before teardown may still drain; the stream
		// itself must end.
		for range vs {
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Positive(t, opts.ConnectTimeout)
	assert.Positive(t, opts.NotifyBuffer)
}

func TestNewPeripheralDefaults(t *testing.T) {
	p := NewPeripheral("AA:BB:CC:DD:EE:FF", nil, nil)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.Address())
	assert.NotNil(t, p.opts)
	assert.NotNil(t, p.logger)
}
