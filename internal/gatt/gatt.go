// Package gatt defines the collaborator contracts the presenter core
// operates against: a connected peripheral exposing services,
// characteristics with declared property flags, and the read, write,
// notify and indicate operations of the attribute protocol. Concrete
// transports (see internal/gattconn) and test doubles implement these
// interfaces.
package gatt

import (
	"context"
	"strings"
)

// ClientCharacteristicConfigUUID is the descriptor a peripheral
// exposes when notifications are enabled the standard way (CCCD,
// assigned number 0x2902). Its absence selects compatibility setup.
const ClientCharacteristicConfigUUID = "00002902-0000-1000-8000-00805f9b34fb"

// Property is a bit set of declared characteristic properties,
// matching the attribute protocol's characteristic property field.
type Property uint8

const (
	PropertyBroadcast Property = 1 << iota
	PropertyRead
	PropertyWriteWithoutResponse
	PropertyWrite
	PropertyNotify
	PropertyIndicate
	PropertyAuthenticatedSignedWrites
	PropertyExtendedProperties
)

// Has reports whether all bits of p2 are set in p.
func (p Property) Has(p2 Property) bool {
	return p&p2 == p2
}

func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropertyBroadcast, "broadcast"},
		{PropertyRead, "read"},
		{PropertyWriteWithoutResponse, "write-without-response"},
		{PropertyWrite, "write"},
		{PropertyNotify, "notify"},
		{PropertyIndicate, "indicate"},
		{PropertyAuthenticatedSignedWrites, "authenticated-signed-writes"},
		{PropertyExtendedProperties, "extended-properties"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// SetupMode selects how a notification or indication subscription is
// established. Resolved once per session and immutable afterwards.
type SetupMode int

const (
	// SetupDefault enables the subscription through the client
	// characteristic configuration descriptor.
	SetupDefault SetupMode = iota
	// SetupCompat is used for peripherals that deliver notifications
	// without exposing a configuration descriptor.
	SetupCompat
)

func (m SetupMode) String() string {
	if m == SetupCompat {
		return "compat"
	}
	return "default"
}

// Capabilities is the per-session view of which operations a
// characteristic supports. Computed once from the declared properties
// and never recomputed mid-session.
type Capabilities struct {
	Read     bool
	Write    bool
	Notify   bool
	Indicate bool
}

// CapabilitiesOf derives the capability set from the characteristic's
// declared properties.
func CapabilitiesOf(c Characteristic) Capabilities {
	p := c.Properties()
	return Capabilities{
		Read:     p.Has(PropertyRead),
		Write:    p.Has(PropertyWrite),
		Notify:   p.Has(PropertyNotify),
		Indicate: p.Has(PropertyIndicate),
	}
}

// Subscribable reports whether the characteristic supports either
// peripheral-initiated subscription mode.
func (c Capabilities) Subscribable() bool {
	return c.Notify || c.Indicate
}

// SetupModeFor picks the notification setup strategy: default when
// the client characteristic configuration descriptor is present,
// compatibility when it is absent.
func SetupModeFor(c Characteristic) SetupMode {
	if c.HasClientConfig() {
		return SetupDefault
	}
	return SetupCompat
}

// ValueStream is one subscription's value sequence. The stream ends
// when the subscription is torn down.
type ValueStream <-chan []byte

// Characteristic is an addressable attribute on a connected
// peripheral.
type Characteristic interface {
	UUID() string
	Properties() Property
	// HasClientConfig reports whether the characteristic exposes a
	// client characteristic configuration descriptor.
	HasClientConfig() bool
}

// Profile is the result of service discovery on a connection.
type Profile interface {
	// Characteristic locates a characteristic by UUID across all
	// discovered services. Returns a *NotFoundError when absent.
	Characteristic(uuid string) (Characteristic, error)
}

// Conn is an established, exclusively-owned connection to a
// peripheral. All blocking operations honour their context; the
// notify/indicate subscriptions are released when the setup context
// is cancelled.
type Conn interface {
	// Peer identifies the remote device, typically by address.
	Peer() string

	// DiscoverServices performs service discovery and returns the
	// resulting profile. Read-only against the peripheral.
	DiscoverServices(ctx context.Context) (Profile, error)

	// Read reads the characteristic's current value.
	Read(ctx context.Context, c Characteristic) ([]byte, error)

	// Write writes data to the characteristic and returns the bytes
	// the peripheral acknowledged.
	Write(ctx context.Context, c Characteristic, data []byte) ([]byte, error)

	// SetupNotification subscribes to notifications. The outer
	// channel emits one ValueStream per established subscription and
	// re-emits if the transport re-establishes it internally; it is
	// closed, and the subscription released, when ctx is cancelled.
	SetupNotification(ctx context.Context, c Characteristic, mode SetupMode) (<-chan ValueStream, error)

	// SetupIndication subscribes to indications; same contract as
	// SetupNotification. At most one of the two may be active on a
	// characteristic at any instant.
	SetupIndication(ctx context.Context, c Characteristic, mode SetupMode) (<-chan ValueStream, error)

	// Close tears the connection down and releases every outstanding
	// subscription.
	Close() error
}

// Device is a known peripheral that sessions can be established
// against.
type Device interface {
	Address() string
	Connect(ctx context.Context) (Conn, error)
}

// NormalizeUUID converts a UUID string to the canonical lookup format
// used throughout (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}
