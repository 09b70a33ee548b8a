package gatt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChar struct {
	props     Property
	hasConfig bool
}

func (c stubChar) UUID() string         { return "2a37" }
func (c stubChar) Properties() Property { return c.props }
func (c stubChar) HasClientConfig() bool {
	return c.hasConfig
}

func TestPropertyHas(t *testing.T) {
	p := PropertyRead | PropertyNotify
	assert.True(t, p.Has(PropertyRead))
	assert.True(t, p.Has(PropertyNotify))
	assert.True(t, p.Has(PropertyRead|PropertyNotify))
	assert.False(t, p.Has(PropertyWrite))
	assert.False(t, p.Has(PropertyRead|PropertyWrite))
}

func TestPropertyString(t *testing.T) {
	tests := []struct {
		props    Property
		expected string
	}{
		{0, ""},
		{PropertyRead, "read"},
		{PropertyRead | PropertyWrite, "read,write"},
		{PropertyNotify | PropertyIndicate, "notify,indicate"},
		{PropertyWriteWithoutResponse, "write-without-response"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.props.String())
		})
	}
}

func TestCapabilitiesOf(t *testing.T) {
	tests := []struct {
		name     string
		props    Property
		expected Capabilities
	}{
		{
			name:     "read only",
			props:    PropertyRead,
			expected: Capabilities{Read: true},
		},
		{
			name:     "write without response is not write",
			props:    PropertyWriteWithoutResponse,
			expected: Capabilities{},
		},
		{
			name:     "full set",
			props:    PropertyRead | PropertyWrite | PropertyNotify | PropertyIndicate,
			expected: Capabilities{Read: true, Write: true, Notify: true, Indicate: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CapabilitiesOf(stubChar{props: tt.props}))
		})
	}
}

func TestCapabilitiesSubscribable(t *testing.T) {
	assert.False(t, Capabilities{Read: true, Write: true}.Subscribable())
	assert.True(t, Capabilities{Notify: true}.Subscribable())
	assert.True(t, Capabilities{Indicate: true}.Subscribable())
}

func TestSetupModeFor(t *testing.T) {
	assert.Equal(t, SetupDefault, SetupModeFor(stubChar{hasConfig: true}))
	assert.Equal(t, SetupCompat, SetupModeFor(stubChar{hasConfig: false}))
}

func TestSetupModeString(t *testing.T) {
	assert.Equal(t, "default", SetupDefault.String())
	assert.Equal(t, "compat", SetupCompat.String())
}

func TestNormalizeUUID(t *testing.T) {
	assert.Equal(t, "2a37", NormalizeUUID("2A37"))
	assert.Equal(t,
		"0000290200001000800000805f9b34fb",
		NormalizeUUID("00002902-0000-1000-8000-00805F9B34FB"))
}

func TestNotFoundErrorMessages(t *testing.T) {
	assert.Equal(t, "characteristic not found",
		(&NotFoundError{Resource: "characteristic"}).Error())
	assert.Equal(t, `characteristic "2a37" not found`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"2a37"}}).Error())
	assert.Equal(t, `characteristic "2a37" not found in "180d"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}).Error())
}

func TestConnectionErrorIs(t *testing.T) {
	err := fmt.Errorf("dial: %w", &ConnectionError{State: ConnectFailed, Msg: "AA:BB"})
	assert.True(t, errors.Is(err, ErrConnectFailed))
	assert.False(t, errors.Is(err, ErrNotConnected))
	assert.True(t, IsConnectionState(err, ConnectFailed))
	assert.False(t, IsConnectionState(err, NotConnected))
}

func TestDiscoveryFailedWrapping(t *testing.T) {
	err := fmt.Errorf("%w: underlying", ErrDiscoveryFailed)
	assert.True(t, errors.Is(err, ErrDiscoveryFailed))
}
