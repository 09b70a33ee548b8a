package stream

import (
	"context"
	"sync"
)

// Bracket returns a source identical to src except for two
// cancellation windows. If before fires while src has not yet emitted,
// the returned source completes without values. Once src has emitted
// at least once, before is ignored and after terminates the source
// instead. Termination cancels the underlying subscription
// synchronously, so a cancelled source stops consuming its resources
// immediately rather than merely going quiet.
//
// src is subscribed exactly once; the single consuming goroutine
// observes it for both the termination race and the pass-through, so
// side effects are never duplicated.
func Bracket[T any](src Source[T], before, after <-chan struct{}) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		subCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer close(out)
			defer cancel()

			values := src(subCtx)
			beforeCh, afterCh := before, (<-chan struct{})(nil)
			for {
				select {
				case <-subCtx.Done():
					return
				case <-beforeCh:
					return
				case <-afterCh:
					return
				case v, ok := <-values:
					if !ok {
						return
					}
					select {
					case out <- v:
					case <-subCtx.Done():
						return
					case <-afterCh:
						return
					}
					// First emission switches the active window.
					beforeCh, afterCh = nil, after
				}
			}
		}()
		return out
	}
}

// Repeat resubscribes src whenever it completes, indefinitely. The
// returned source never completes on its own; only context
// cancellation stops it. Errors are expected to have been converted
// to values upstream, so completion is the sole restart condition.
func Repeat[T any](src Source[T]) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		go func() {
			defer close(out)
			for {
				if ctx.Err() != nil {
					return
				}
				for v := range src(ctx) {
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

// Race subscribes all sources and mirrors whichever produces the
// first emission. The losers are cancelled synchronously, before the
// winning value is forwarded, so a losing subscription never holds
// its resources past the decision point. A source that completes
// without emitting drops out of the race; Race completes when every
// source has done so.
func Race[T any](sources ...Source[T]) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)

		entries := make([]raceEntry[T], len(sources))
		for i, src := range sources {
			subCtx, cancel := context.WithCancel(ctx)
			entries[i] = raceEntry[T]{ch: src(subCtx), cancel: cancel}
		}

		go func() {
			defer close(out)
			defer func() {
				for _, e := range entries {
					e.cancel()
				}
			}()

			remaining := len(entries)
			for remaining > 0 {
				winner, v, ok := selectAny(ctx, entries)
				if winner < 0 {
					return // context cancelled
				}
				if !ok {
					entries[winner].ch = nil
					remaining--
					continue
				}
				// Cancel losers before forwarding the deciding value.
				for i, e := range entries {
					if i != winner {
						e.cancel()
					}
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
				for val := range entries[winner].ch {
					select {
					case out <- val:
					case <-ctx.Done():
						return
					}
				}
				return
			}
		}()
		return out
	}
}

// raceEntry is one competitor in a Race: its subscription channel and
// the cancel releasing it.
type raceEntry[T any] struct {
	ch     <-chan T
	cancel context.CancelFunc
}

// selectAny waits for the next event on any live entry channel.
// Returns the entry index, the value, and whether the channel is
// still open; index -1 means the context was cancelled. The race is
// between two entries in every caller today, so the explicit select
// keeps ordering deterministic for tests.
func selectAny[T any](ctx context.Context, entries []raceEntry[T]) (int, T, bool) {
	var zero T
	if len(entries) == 2 {
		select {
		case <-ctx.Done():
			return -1, zero, false
		case v, ok := <-entries[0].ch:
			return 0, v, ok
		case v, ok := <-entries[1].ch:
			return 1, v, ok
		}
	}
	// Generic fan-in for other arities.
	type event struct {
		idx int
		v   T
		ok  bool
	}
	agg := make(chan event)
	done := make(chan struct{})
	defer close(done)
	for i, e := range entries {
		if e.ch == nil {
			continue
		}
		go func(idx int, ch <-chan T) {
			v, ok := <-ch
			select {
			case agg <- event{idx, v, ok}:
			case <-done:
			}
		}(i, e.ch)
	}
	select {
	case <-ctx.Done():
		return -1, zero, false
	case ev := <-agg:
		return ev.idx, ev.v, ev.ok
	}
}

// Merge interleaves the emissions of all sources into one stream.
// Ordering is preserved within a source but not across sources. The
// merged stream completes when every source has completed.
func Merge[T any](sources ...Source[T]) Source[T] {
	return func(ctx context.Context) <-chan T {
		out := make(chan T)
		var wg sync.WaitGroup
		wg.Add(len(sources))
		for _, src := range sources {
			go func(src Source[T]) {
				defer wg.Done()
				for v := range src(ctx) {
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				}
			}(src)
		}
		go func() {
			wg.Wait()
			close(out)
		}()
		return out
	}
}
