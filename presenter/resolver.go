package presenter

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattmux/internal/gatt"
)

// Resolution is the per-session outcome of capability resolution: the
// located characteristic, which operations it supports, and how a
// subscription would be set up. All fields are immutable for the
// session's lifetime.
type Resolution struct {
	Characteristic gatt.Characteristic
	Capabilities   gatt.Capabilities
	Mode           gatt.SetupMode
}

// Resolve discovers services on an established connection, locates
// the characteristic and computes its capability set and notification
// setup mode. A characteristic that cannot be located is an error the
// caller treats like a connection failure.
func Resolve(ctx context.Context, conn gatt.Conn, charUUID string, logger *logrus.Logger) (Resolution, error) {
	profile, err := conn.DiscoverServices(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", gatt.ErrDiscoveryFailed, err)
	}

	char, err := profile.Characteristic(charUUID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		Characteristic: char,
		Capabilities:   gatt.CapabilitiesOf(char),
		Mode:           gatt.SetupModeFor(char),
	}

	logger.WithFields(logrus.Fields{
		"characteristic": char.UUID(),
		"properties":     char.Properties().String(),
		"setup_mode":     res.Mode.String(),
	}).Debug("Resolved characteristic capabilities")

	return res, nil
}
