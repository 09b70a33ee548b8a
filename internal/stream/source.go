// Package stream provides the push-based stream primitives the
// presenter core is composed from: cold sources, a bounded
// overwrite-oldest channel, a multicast broadcaster, and the
// cancellation/restart combinators.
//
// A Source is cold: every call to it starts an independent
// subscription whose lifetime is bound to the passed context. The
// returned channel is closed when the subscription completes or the
// context is cancelled; errors are expected to have been converted to
// values by the producer.
package stream

import "context"

// Source starts a new subscription and returns its value channel.
// The channel is closed on completion or context cancellation.
type Source[T any] func(ctx context.Context) <-chan T

// Empty returns a source that completes immediately without emitting.
func Empty[T any]() Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		close(out)
		return out
	}
}

// Never returns a source that neither emits nor completes until the
// context is cancelled. Used to keep unsupported inputs out of a race.
func Never[T any]() Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out
	}
}

// Just emits the given values and completes.
func Just[T any](values ...T) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T, len(values))
		for _, v := range values {
			out <- v
		}
		close(out)
		return out
	}
}

// FromTrigger adapts a hot trigger channel into a source. Each
// subscription receives from the shared channel, so concurrent
// subscribers compete for emissions; by construction the presenter
// has at most one active subscriber per trigger.
func FromTrigger[T any](trigger <-chan T) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		go func() {
			defer close(out)
			for {
				select {
				case <-ctx.Done():
					return
				case v, ok := <-trigger:
					if !ok {
						return
					}
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

// TakeFirst completes after forwarding the first emission of src.
func TakeFirst[T any](src Source[T]) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		subCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer close(out)
			defer cancel()
			select {
			case <-subCtx.Done():
			case v, ok := <-src(subCtx):
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-subCtx.Done():
				}
			}
		}()
		return out
	}
}

// Map transforms each emission of src with f.
func Map[T, U any](src Source[T], f func(T) U) Source[U] {
	return func(ctx context.Context) <-chan U {
		out := make(chan U)
		go func() {
			defer close(out)
			for v := range src(ctx) {
				select {
				case out <- f(v):
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

// StartWith prefixes src with the given values. The prefix values are
// buffered into the subscription channel synchronously, before src is
// subscribed.
func StartWith[T any](src Source[T], values ...T) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T, len(values))
		for _, v := range values {
			out <- v
		}
		go func() {
			defer close(out)
			for v := range src(ctx) {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
