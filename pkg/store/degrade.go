package store

import (
	"context"
	"sync/atomic"
)

// DegradationFlag is a request-scoped marker set when a store operation was
// served by the in-memory fallback. The planner threads one through the
// request context and surfaces it in response metadata; it never branches
// on which backend is active.
type DegradationFlag struct {
	set atomic.Bool
}

// Degraded reports whether any operation in the request fell back.
func (f *DegradationFlag) Degraded() bool { return f.set.Load() }

type degradationKey struct{}

// WithDegradationFlag attaches a flag to the context.
func WithDegradationFlag(ctx context.Context, f *DegradationFlag) context.Context {
	return context.WithValue(ctx, degradationKey{}, f)
}

// markDegraded flips the flag carried by ctx, if any.
func markDegraded(ctx context.Context) {
	if f, ok := ctx.Value(degradationKey{}).(*DegradationFlag); ok {
		f.set.Store(true)
	}
}
