package presenter

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattmux/internal/gatt"
	"github.com/srg/gattmux/internal/stream"
)

// emit sends ev unless ctx is cancelled first. Every producer in the
// package sends through this so teardown never leaks a goroutine
// blocked on an abandoned channel.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sessionEvents builds the merged in-session event stream for one
// established connection: the read and write lanes plus the
// notify/indicate lane, interleaved with no cross-lane ordering
// guarantee.
func sessionEvents(conn gatt.Conn, res Resolution, t Triggers, logger *logrus.Logger) stream.Source[Event] {
	return stream.Merge(
		readLane(conn, res, t, logger),
		writeLane(conn, res, t, logger),
		subscriptionLane(conn, res, t, logger),
	)
}

// readLane executes one read per read trigger. A failed read reports
// an ErrorEvent and completes the execution stream, which the Repeat
// wrapper immediately resubscribes, so the lane keeps accepting
// commands after an error. Unsupported: permanently empty.
func readLane(conn gatt.Conn, res Resolution, t Triggers, logger *logrus.Logger) stream.Source[Event] {
	if !res.Capabilities.Read {
		return stream.Empty[Event]()
	}
	exec := func(ctx context.Context) <-chan Event {
		out := make(chan Event)
		go func() {
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-t.Read:
					if !ok {
						return
					}
					data, err := conn.Read(ctx, res.Characteristic)
					if err != nil {
						logger.WithError(err).Debug("Read failed, lane will restart")
						emit(ctx, out, ErrorEvent{Op: OpRead, Err: err})
						return
					}
					if !emit(ctx, out, ResultEvent{Op: OpRead, Data: data}) {
						return
					}
				}
			}
		}()
		return out
	}
	return stream.Repeat(exec)
}

// writeLane executes one write per write trigger. A failed write is
// reported once; unlike the read lane there is no restart machinery
// anchored on the execution stream, only a new write command
// re-triggers the operation.
func writeLane(conn gatt.Conn, res Resolution, t Triggers, logger *logrus.Logger) stream.Source[Event] {
	if !res.Capabilities.Write {
		return stream.Empty[Event]()
	}
	return func(ctx context.Context) <-chan Event {
		out := make(chan Event)
		go func() {
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case data, ok := <-t.Write:
					if !ok {
						return
					}
					written, err := conn.Write(ctx, res.Characteristic, data)
					if err != nil {
						logger.WithError(err).Debug("Write failed")
						if !emit(ctx, out, ErrorEvent{Op: OpWrite, Err: err}) {
							return
						}
						continue
					}
					if !emit(ctx, out, ResultEvent{Op: OpWrite, Data: written}) {
						return
					}
				}
			}
		}()
		return out
	}
}

// subEvent is one emission of a subscription's outer stream: either
// an established value stream or the setup failure.
type subEvent struct {
	values gatt.ValueStream
	err    error
}

// subscriptionLane arbitrates the notify/indicate race. Each enable
// trigger is reduced to its first emission; an unsupported mode is
// replaced with a never-emitting source so it cannot win. The winning
// mode's subscription is bracketed by its own cancel/disable
// triggers, and when it ends, for any reason, the race re-arms from
// scratch. The compatibility notice is emitted synchronously before
// the first race outcome, once per session.
func subscriptionLane(conn gatt.Conn, res Resolution, t Triggers, logger *logrus.Logger) stream.Source[Event] {
	armNotify := stream.Never[OperationType]()
	if res.Capabilities.Notify {
		armNotify = stream.Map(
			stream.TakeFirst(stream.FromTrigger(t.EnableNotify)),
			func(struct{}) OperationType { return OpNotify },
		)
	}
	armIndicate := stream.Never[OperationType]()
	if res.Capabilities.Indicate {
		armIndicate = stream.Map(
			stream.TakeFirst(stream.FromTrigger(t.EnableIndicate)),
			func(struct{}) OperationType { return OpIndicate },
		)
	}

	raceOnce := func(ctx context.Context) <-chan Event {
		out := make(chan Event)
		go func() {
			defer close(out)
			op, ok := <-stream.Race(armNotify, armIndicate)(ctx)
			if !ok {
				return
			}
			logger.WithField("mode", op.String()).Debug("Subscription race decided")

			var outer stream.Source[subEvent]
			var before, after <-chan struct{}
			switch op {
			case OpIndicate:
				outer = subscriptionStream(conn.SetupIndication, res)
				before, after = t.CancelIndicate, t.DisableIndicate
			default:
				outer = subscriptionStream(conn.SetupNotification, res)
				before, after = t.CancelNotify, t.DisableNotify
			}

			bracketed := stream.Bracket(outer, before, after)
			for ev := range flattenSubscription(op, bracketed)(ctx) {
				if !emit(ctx, out, ev) {
					return
				}
			}
			logger.WithField("mode", op.String()).Debug("Subscription ended, race re-arms")
		}()
		return out
	}

	notice := CompatibilityModeEvent{
		Compat: res.Capabilities.Subscribable() && res.Mode == gatt.SetupCompat,
	}
	return stream.StartWith(stream.Repeat(raceOnce), Event(notice))
}

// setupFunc matches gatt.Conn.SetupNotification / SetupIndication.
type setupFunc func(ctx context.Context, c gatt.Characteristic, mode gatt.SetupMode) (<-chan gatt.ValueStream, error)

// subscriptionStream opens the subscription and surfaces its outer
// stream as subEvents. The first emission marks the subscription as
// active, which is what flips the bracketed-cancellation window from
// cancel-before-active to disable. Cancelling the subscription
// context releases the underlying subscription synchronously.
func subscriptionStream(setup setupFunc, res Resolution) stream.Source[subEvent] {
	return func(ctx context.Context) <-chan subEvent {
		out := make(chan subEvent, 1)
		go func() {
			defer close(out)
			streams, err := setup(ctx, res.Characteristic, res.Mode)
			if err != nil {
				out <- subEvent{err: err}
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case vs, ok := <-streams:
					if !ok {
						return
					}
					select {
					case out <- subEvent{values: vs}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

// flattenSubscription unwraps the outer subscription stream into
// presenter events: each inner value becomes a Result, a setup
// failure becomes a single Error that completes the lane.
func flattenSubscription(op OperationType, outer stream.Source[subEvent]) stream.Source[Event] {
	return func(ctx context.Context) <-chan Event {
		out := make(chan Event)
		go func() {
			defer close(out)
			for se := range outer(ctx) {
				if se.err != nil {
					emit(ctx, out, ErrorEvent{Op: op, Err: se.err})
					return
				}
			inner:
				for {
					select {
					case <-ctx.Done():
						return
					case data, ok := <-se.values:
						if !ok {
							break inner // wait for the outer stream to re-establish
						}
						if !emit(ctx, out, ResultEvent{Op: op, Data: data}) {
							return
						}
					}
				}
			}
		}()
		return out
	}
}
