package main

import (
	"errors"

	"github.com/srg/gattmux/internal/gatt"
)

// FormatUserError converts internal errors into user-facing messages.
func FormatUserError(err error) string {
	var notFound *gatt.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return notFound.Error() + " (check the UUID and try again)"
	case errors.Is(err, gatt.ErrConnectFailed):
		return "could not connect to the device: " + err.Error()
	case errors.Is(err, gatt.ErrNotConnected):
		return "not connected to a device"
	default:
		return err.Error()
	}
}
