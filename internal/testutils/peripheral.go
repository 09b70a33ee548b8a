package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattmux/internal/gatt"
)

// FakeCharacteristic implements gatt.Characteristic.
type FakeCharacteristic struct {
	uuid      string
	props     gatt.Property
	hasConfig bool
	value     []byte
}

func (c *FakeCharacteristic) UUID() string              { return c.uuid }
func (c *FakeCharacteristic) Properties() gatt.Property { return c.props }
func (c *FakeCharacteristic) HasClientConfig() bool     { return c.hasConfig }

// CharOption customizes a built characteristic.
type CharOption func(*FakeCharacteristic)

// WithValue sets the value returned by reads.
func WithValue(data []byte) CharOption {
	return func(c *FakeCharacteristic) { c.value = data }
}

// WithoutClientConfig removes the client characteristic configuration
// descriptor, forcing compatibility-mode notification setup.
func WithoutClientConfig() CharOption {
	return func(c *FakeCharacteristic) { c.hasConfig = false }
}

// PeripheralBuilder builds a FakePeripheral with a fluent API.
type PeripheralBuilder struct {
	address     string
	connectErr  error
	discoverErr error
	services    []*fakeService
	current     *fakeService
}

type fakeService struct {
	uuid  string
	chars []*FakeCharacteristic
}

// NewPeripheral starts building a fake peripheral.
func NewPeripheral(address string) *PeripheralBuilder {
	return &PeripheralBuilder{address: address}
}

// WithConnectError makes every Connect attempt fail with err.
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithDiscoveryError makes service discovery fail with err.
func (b *PeripheralBuilder) WithDiscoveryError(err error) *PeripheralBuilder {
	b.discoverErr = err
	return b
}

// WithService adds a service; subsequent WithCharacteristic calls
// attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	svc := &fakeService{uuid: gatt.NormalizeUUID(uuid)}
	b.services = append(b.services, svc)
	b.current = svc
	return b
}

// WithCharacteristic adds a characteristic to the current service.
// props is a comma-separated list, e.g. "read,write" or
// "notify,indicate". Characteristics with notify or indicate carry a
// client configuration descriptor unless WithoutClientConfig is given.
func (b *PeripheralBuilder) WithCharacteristic(uuid, props string, opts ...CharOption) *PeripheralBuilder {
	if b.current == nil {
		panic("testutils: WithCharacteristic before WithService")
	}
	char := &FakeCharacteristic{
		uuid:  gatt.NormalizeUUID(uuid),
		props: parseProps(props),
	}
	char.hasConfig = char.props.Has(gatt.PropertyNotify) || char.props.Has(gatt.PropertyIndicate)
	for _, opt := range opts {
		opt(char)
	}
	b.current.chars = append(b.current.chars, char)
	return b
}

// Build finalizes the peripheral.
func (b *PeripheralBuilder) Build(logger *logrus.Logger) *FakePeripheral {
	if logger == nil {
		logger = NewTestLogger()
	}
	return &FakePeripheral{
		address:     b.address,
		connectErr:  b.connectErr,
		discoverErr: b.discoverErr,
		services:    b.services,
		logger:      logger,
	}
}

func parseProps(props string) gatt.Property {
	var p gatt.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(name) {
		case "broadcast":
			p |= gatt.PropertyBroadcast
		case "read":
			p |= gatt.PropertyRead
		case "write":
			p |= gatt.PropertyWrite
		case "write-without-response":
			p |= gatt.PropertyWriteWithoutResponse
		case "notify":
			p |= gatt.PropertyNotify
		case "indicate":
			p |= gatt.PropertyIndicate
		case "":
		default:
			panic(fmt.Sprintf("testutils: unknown property %q", name))
		}
	}
	return p
}

// FakePeripheral implements gatt.Device. Each Connect returns a fresh
// FakeConn; the most recent one is available via LastConn.
type FakePeripheral struct {
	address     string
	connectErr  error
	discoverErr error
	services    []*fakeService
	logger      *logrus.Logger

	mu           sync.Mutex
	connectCount int
	lastConn     *FakeConn
}

func (p *FakePeripheral) Address() string { return p.address }

// ConnectCount returns how many successful and failed connection
// attempts have been made.
func (p *FakePeripheral) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCount
}

// LastConn returns the most recently established connection, or nil.
func (p *FakePeripheral) LastConn() *FakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastConn
}

func (p *FakePeripheral) Connect(ctx context.Context) (gatt.Conn, error) {
	p.mu.Lock()
	p.connectCount++
	p.mu.Unlock()
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn := &FakeConn{
		peer:        p.address,
		services:    p.services,
		discoverErr: p.discoverErr,
		logger:      p.logger,
	}
	p.mu.Lock()
	p.lastConn = conn
	p.mu.Unlock()
	return conn, nil
}

// FakeConn implements gatt.Conn with scriptable failures and
// observable side effects. Reads return the characteristic's built
// value unless an error has been queued with FailNextRead; writes
// echo their payload unless FailNextWrite queued an error.
type FakeConn struct {
	peer        string
	services    []*fakeService
	discoverErr error
	logger      *logrus.Logger

	mu            sync.Mutex
	readErrs      []error
	writeErrs     []error
	notifyErrs    []error
	indicateErrs  []error
	reads         int
	writes        [][]byte
	closed        bool
	lastSetupMode gatt.SetupMode
	notifySub     *fakeSub
	indicateSub   *fakeSub
}

type fakeSub struct {
	values chan []byte
}

func (c *FakeConn) Peer() string { return c.peer }

func (c *FakeConn) DiscoverServices(ctx context.Context) (gatt.Profile, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return &fakeProfile{services: c.services}, nil
}

// FailNextRead queues an error for the next read.
func (c *FakeConn) FailNextRead(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErrs = append(c.readErrs, err)
}

// FailNextWrite queues an error for the next write.
func (c *FakeConn) FailNextWrite(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErrs = append(c.writeErrs, err)
}

// FailNextNotifySetup queues an error for the next notification setup.
func (c *FakeConn) FailNextNotifySetup(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyErrs = append(c.notifyErrs, err)
}

// FailNextIndicateSetup queues an error for the next indication setup.
func (c *FakeConn) FailNextIndicateSetup(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indicateErrs = append(c.indicateErrs, err)
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (c *FakeConn) Read(ctx context.Context, char gatt.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if err := popErr(&c.readErrs); err != nil {
		return nil, err
	}
	fc, ok := char.(*FakeCharacteristic)
	if !ok {
		return nil, fmt.Errorf("unknown characteristic %s", char.UUID())
	}
	return fc.value, nil
}

func (c *FakeConn) Write(ctx context.Context, char gatt.Characteristic, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := popErr(&c.writeErrs); err != nil {
		return nil, err
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return data, nil
}

func (c *FakeConn) SetupNotification(ctx context.Context, char gatt.Characteristic, mode gatt.SetupMode) (<-chan gatt.ValueStream, error) {
	return c.subscribe(ctx, mode, false)
}

func (c *FakeConn) SetupIndication(ctx context.Context, char gatt.Characteristic, mode gatt.SetupMode) (<-chan gatt.ValueStream, error) {
	return c.subscribe(ctx, mode, true)
}

func (c *FakeConn) subscribe(ctx context.Context, mode gatt.SetupMode, indicate bool) (<-chan gatt.ValueStream, error) {
	c.mu.Lock()
	var err error
	if indicate {
		err = popErr(&c.indicateErrs)
	} else {
		err = popErr(&c.notifyErrs)
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	sub := &fakeSub{values: make(chan []byte, 16)}
	c.lastSetupMode = mode
	if indicate {
		c.indicateSub = sub
	} else {
		c.notifySub = sub
	}
	c.mu.Unlock()

	outer := make(chan gatt.ValueStream, 1)
	outer <- gatt.ValueStream(sub.values)
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if indicate && c.indicateSub == sub {
			c.indicateSub = nil
		} else if !indicate && c.notifySub == sub {
			c.notifySub = nil
		}
		c.mu.Unlock()
		close(sub.values)
		close(outer)
	}()
	return outer, nil
}

// Push delivers data to whichever subscription is currently active.
// Returns false when no subscription is active.
func (c *FakeConn) Push(data []byte) bool {
	c.mu.Lock()
	sub := c.notifySub
	if sub == nil {
		sub = c.indicateSub
	}
	c.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.values <- append([]byte(nil), data...)
	return true
}

// NotifyActive reports whether a notification subscription is open.
func (c *FakeConn) NotifyActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifySub != nil
}

// IndicateActive reports whether an indication subscription is open.
func (c *FakeConn) IndicateActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicateSub != nil
}

// ActiveSubscriptions counts currently open subscriptions.
func (c *FakeConn) ActiveSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if c.notifySub != nil {
		n++
	}
	if c.indicateSub != nil {
		n++
	}
	return n
}

// LastSetupMode returns the mode passed to the most recent
// subscription setup.
func (c *FakeConn) LastSetupMode() gatt.SetupMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSetupMode
}

// ReadCount returns the number of read attempts, including failures.
func (c *FakeConn) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Writes returns the successfully written payloads in order.
func (c *FakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeProfile struct {
	services []*fakeService
}

func (p *fakeProfile) Characteristic(uuid string) (gatt.Characteristic, error) {
	normalized := gatt.NormalizeUUID(uuid)
	for _, svc := range p.services {
		for _, char := range svc.chars {
			if char.uuid == normalized {
				return char, nil
			}
		}
	}
	return nil, &gatt.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
}
