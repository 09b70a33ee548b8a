// Package gattconn implements the gatt collaborator contracts on top
// of the go-ble stack: connecting to a peripheral, discovering its
// profile, and running read/write/subscribe operations against a
// characteristic.
package gattconn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattmux/internal/gatt"
	"github.com/srg/gattmux/internal/groutine"
	"github.com/srg/gattmux/internal/stream"
)

// DeviceFactory creates ble.Device instances (overridable in tests).
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// Options configures connection establishment.
type Options struct {
	ConnectTimeout time.Duration
	// NotifyBuffer sizes the per-subscription value buffer; when it
	// overflows the oldest value is dropped.
	NotifyBuffer int
}

// DefaultOptions returns sensible connection defaults.
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout: 30 * time.Second,
		NotifyBuffer:   128,
	}
}

// Peripheral is a known remote device addressable by its BLE address.
// It implements gatt.Device.
type Peripheral struct {
	addr   string
	opts   *Options
	logger *logrus.Logger
}

// NewPeripheral creates a peripheral handle. A nil opts uses
// DefaultOptions, a nil logger a default logrus logger.
func NewPeripheral(addr string, opts *Options, logger *logrus.Logger) *Peripheral {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{addr: addr, opts: opts, logger: logger}
}

// Address returns the peripheral's BLE address.
func (p *Peripheral) Address() string { return p.addr }

// Connect dials the peripheral and returns an established connection.
func (p *Peripheral) Connect(ctx context.Context) (gatt.Conn, error) {
	if strings.TrimSpace(p.addr) == "" {
		return nil, &gatt.ConnectionError{State: gatt.ConnectFailed, Msg: "device address is not set"}
	}

	p.logger.WithField("address", p.addr).Info("Connecting to BLE device...")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(p.addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", &gatt.ConnectionError{State: gatt.ConnectFailed, Msg: p.addr}, err)
	}

	p.logger.WithField("address", p.addr).Info("BLE device connected")
	return &Conn{
		client: client,
		addr:   p.addr,
		opts:   p.opts,
		logger: p.logger,
	}, nil
}

// Conn is one established, exclusively-owned BLE connection. It
// implements gatt.Conn. Client operations are serialized with a
// mutex so concurrent lanes preserve the single-timeline assumption
// of the underlying client.
type Conn struct {
	client ble.Client
	addr   string
	opts   *Options
	logger *logrus.Logger

	opMu   sync.Mutex // serializes read/write/subscribe calls
	connMu sync.RWMutex
	closed bool
}

// Peer returns the remote device address.
func (c *Conn) Peer() string { return c.addr }

// DiscoverServices runs profile discovery and indexes the result in
// discovery order.
func (c *Conn) DiscoverServices(ctx context.Context) (gatt.Profile, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	bleProfile, err := c.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", err)
	}

	services := orderedmap.New[string, *service]()
	for _, bleSvc := range bleProfile.Services {
		svcUUID := gatt.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := services.Get(svcUUID)
		if !ok {
			svc = &service{
				uuid:  svcUUID,
				chars: orderedmap.New[string, *characteristic](),
			}
			services.Set(svcUUID, svc)
		}
		for _, bleChar := range bleSvc.Characteristics {
			uuid := gatt.NormalizeUUID(bleChar.UUID.String())
			c.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    uuid,
			}).Debug("Discovered characteristic")
			svc.chars.Set(uuid, &characteristic{ble: bleChar})
		}
	}

	return &profile{services: services}, nil
}

// Read reads the characteristic's current value.
func (c *Conn) Read(ctx context.Context, char gatt.Characteristic) ([]byte, error) {
	bc, err := c.bleChar(char)
	if err != nil {
		return nil, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	data, err := c.client.ReadCharacteristic(bc)
	if err != nil {
		return nil, fmt.Errorf("read of %s failed: %w", char.UUID(), err)
	}
	return data, nil
}

// Write writes data with response and returns the acknowledged bytes.
func (c *Conn) Write(ctx context.Context, char gatt.Characteristic, data []byte) ([]byte, error) {
	bc, err := c.bleChar(char)
	if err != nil {
		return nil, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if err := c.client.WriteCharacteristic(bc, data, false); err != nil {
		return nil, fmt.Errorf("write of %s failed: %w", char.UUID(), err)
	}
	return data, nil
}

// SetupNotification subscribes to notifications on the characteristic.
func (c *Conn) SetupNotification(ctx context.Context, char gatt.Characteristic, mode gatt.SetupMode) (<-chan gatt.ValueStream, error) {
	return c.subscribe(ctx, char, mode, false)
}

// SetupIndication subscribes to indications on the characteristic.
func (c *Conn) SetupIndication(ctx context.Context, char gatt.Characteristic, mode gatt.SetupMode) (<-chan gatt.ValueStream, error) {
	return c.subscribe(ctx, char, mode, true)
}

// subscribe enables the notification or indication and returns the
// outer value-stream channel. The mode is logged for observability
// only: CoreBluetooth performs the CCCD write itself, so both setup
// modes map onto the same Subscribe call here and mode selection is
// surfaced to the user by the session's compatibility notice instead.
func (c *Conn) subscribe(ctx context.Context, char gatt.Characteristic, mode gatt.SetupMode, indicate bool) (<-chan gatt.ValueStream, error) {
	bc, err := c.bleChar(char)
	if err != nil {
		return nil, err
	}
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}

	kind := "notification"
	if indicate {
		kind = "indication"
	}
	c.logger.WithFields(logrus.Fields{
		"char_uuid": char.UUID(),
		"mode":      mode.String(),
		"kind":      kind,
	}).Info("Subscribing to characteristic")

	values := stream.NewRingChannel[[]byte](c.opts.NotifyBuffer)

	// A notification can arrive concurrently with Unsubscribe; the
	// handler and teardown share this lock so no value is sent to the
	// ring after it is closed.
	var subMu sync.Mutex
	subClosed := false

	c.opMu.Lock()
	err = c.client.Subscribe(bc, indicate, func(data []byte) {
		subMu.Lock()
		defer subMu.Unlock()
		if subClosed {
			return
		}
		values.Send(append([]byte(nil), data...))
	})
	c.opMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", char.UUID(), err)
	}

	outer := make(chan gatt.ValueStream, 1)
	outer <- gatt.ValueStream(values.C())

	// Release the subscription the moment the caller's context ends.
	groutine.Go(ctx, "gattconn-"+kind, func(ctx context.Context) {
		<-ctx.Done()
		c.opMu.Lock()
		uerr := c.client.Unsubscribe(bc, indicate)
		c.opMu.Unlock()
		if uerr != nil {
			c.logger.WithError(uerr).WithField("char_uuid", char.UUID()).Warn("Failed to unsubscribe")
		}
		subMu.Lock()
		subClosed = true
		subMu.Unlock()
		values.Close()
		close(outer)
	})
	return outer, nil
}

// Close tears the connection down.
func (c *Conn) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.WithField("address", c.addr).Info("Disconnecting BLE device")
	if err := c.client.CancelConnection(); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}
	return nil
}

func (c *Conn) ensureOpen() error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.closed {
		return gatt.ErrNotConnected
	}
	return nil
}

func (c *Conn) bleChar(char gatt.Characteristic) (*ble.Characteristic, error) {
	bc, ok := char.(*characteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %s was not discovered on this connection", char.UUID())
	}
	if err := c.ensureOpen(); err != nil {
		return nil, err
	}
	return bc.ble, nil
}

// profile indexes discovered services in discovery order.
type profile struct {
	services *orderedmap.OrderedMap[string, *service]
}

type service struct {
	uuid  string
	chars *orderedmap.OrderedMap[string, *characteristic]
}

// Characteristic locates a characteristic by UUID across all
// services, in discovery order.
func (p *profile) Characteristic(uuid string) (gatt.Characteristic, error) {
	normalized := gatt.NormalizeUUID(uuid)
	for svc := p.services.Oldest(); svc != nil; svc = svc.Next() {
		if char, ok := svc.Value.chars.Get(normalized); ok {
			return char, nil
		}
	}
	return nil, &gatt.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
}

// characteristic wraps a discovered ble.Characteristic.
type characteristic struct {
	ble *ble.Characteristic
}

func (c *characteristic) UUID() string {
	return gatt.NormalizeUUID(c.ble.UUID.String())
}

func (c *characteristic) Properties() gatt.Property {
	var p gatt.Property
	bits := []struct {
		ble  ble.Property
		gatt gatt.Property
	}{
		{ble.CharBroadcast, gatt.PropertyBroadcast},
		{ble.CharRead, gatt.PropertyRead},
		{ble.CharWriteNR, gatt.PropertyWriteWithoutResponse},
		{ble.CharWrite, gatt.PropertyWrite},
		{ble.CharNotify, gatt.PropertyNotify},
		{ble.CharIndicate, gatt.PropertyIndicate},
		{ble.CharSignedWrite, gatt.PropertyAuthenticatedSignedWrites},
		{ble.CharExtended, gatt.PropertyExtendedProperties},
	}
	for _, b := range bits {
		if c.ble.Property&b.ble != 0 {
			p |= b.gatt
		}
	}
	return p
}

func (c *characteristic) HasClientConfig() bool {
	if c.ble.CCCD != nil {
		return true
	}
	// Descriptor UUIDs may be advertised in 16-bit or 128-bit form.
	long := gatt.NormalizeUUID(gatt.ClientCharacteristicConfigUUID)
	for _, d := range c.ble.Descriptors {
		s := gatt.NormalizeUUID(d.UUID.String())
		if s == "2902" || s == long {
			return true
		}
	}
	return false
}
