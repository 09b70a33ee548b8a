// Package groutine starts named goroutines. Names are attached as
// pprof labels and carried in the context so that goroutine dumps of
// a wedged session point at the lane that owns each goroutine.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine labelled with name. A nil parent
// context defaults to context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// Name returns the goroutine name recorded in ctx, if any.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}
