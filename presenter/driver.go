package presenter

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattmux/internal/gatt"
	"github.com/srg/gattmux/internal/groutine"
	"github.com/srg/gattmux/internal/stream"
)

// Driver owns the connect, operate, disconnect cycle for one
// characteristic on one device. The cycle restarts after every
// termination, whether it ended by user action or by failure, so the
// event stream it produces never terminates on its own; only the
// owning context stops it.
type Driver struct {
	device   gatt.Device
	charUUID string
	logger   *logrus.Logger
}

// NewDriver creates a session driver for the given device and
// characteristic UUID.
func NewDriver(device gatt.Device, charUUID string, logger *logrus.Logger) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Driver{
		device:   device,
		charUUID: charUUID,
		logger:   logger,
	}
}

// Run starts the driver and returns its event stream. The driver
// waits for a connect trigger, runs one session, and loops; connect
// triggers fired during an active session are dropped. The returned
// channel closes only when ctx is cancelled.
func (d *Driver) Run(ctx context.Context, t Triggers) <-chan Event {
	out := make(chan Event)
	groutine.Go(ctx, "presenter-driver", func(ctx context.Context) {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-t.Connect:
				if !ok {
					return
				}
			}
			d.logger.WithField("device", d.device.Address()).Debug("Connect requested, starting session")

			// CancelConnect tears the session down while it is still
			// connecting; once any event has been emitted, Disconnect
			// takes over as the termination trigger.
			session := stream.Bracket(d.sessionSource(t), t.CancelConnect, t.Disconnect)
			for ev := range session(ctx) {
				if !emit(ctx, out, ev) {
					return
				}
			}
			d.logger.Debug("Session ended, awaiting next connect trigger")
		}
	})
	return out
}

// sessionSource produces the event stream of a single session:
// connect, resolve capabilities, then delegate to the command
// multiplexer. Connection and discovery failures are converted into
// Info events rather than propagated, which completes the session and
// lets the outer cycle restart.
func (d *Driver) sessionSource(t Triggers) stream.Source[Event] {
	return func(ctx context.Context) <-chan Event {
		out := make(chan Event)
		go func() {
			defer close(out)

			conn, err := d.device.Connect(ctx)
			if err != nil {
				d.logger.WithError(err).Info("Connection attempt failed")
				emit(ctx, out, InfoEvent{Message: fmt.Sprintf("Connection error: %v", err)})
				return
			}
			defer func() {
				if cerr := conn.Close(); cerr != nil {
					d.logger.WithError(cerr).Warn("Failed to close connection")
				}
			}()

			res, err := Resolve(ctx, conn, d.charUUID, d.logger)
			if err != nil {
				d.logger.WithError(err).Info("Capability resolution failed")
				emit(ctx, out, InfoEvent{Message: fmt.Sprintf("Connection error: %v", err)})
				return
			}

			events := stream.StartWith(
				sessionEvents(conn, res, t, d.logger),
				Event(InfoEvent{Message: fmt.Sprintf("Connection with %s has been established", conn.Peer())}),
			)
			for ev := range events(ctx) {
				if !emit(ctx, out, ev) {
					return
				}
			}
		}()
		return out
	}
}
