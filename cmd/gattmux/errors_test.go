package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/gattmux/internal/gatt"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "characteristic not found",
			err: &gatt.NotFoundError{
				Resource: "characteristic",
				UUIDs:    []string{"2a37"},
			},
			expected: `characteristic "2a37" not found (check the UUID and try again)`,
		},
		{
			name:     "connect failure",
			err:      fmt.Errorf("dial: %w", &gatt.ConnectionError{State: gatt.ConnectFailed, Msg: "AA:BB"}),
			expected: "could not connect to the device: dial: connect_failed: AA:BB",
		},
		{
			name:     "not connected",
			err:      fmt.Errorf("read: %w", gatt.ErrNotConnected),
			expected: "not connected to a device",
		},
		{
			name:     "other errors pass through",
			err:      errors.New("something else"),
			expected: "something else",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
