package task

import "context"

// ctxKey is an unexported context-key type so WithBoundRunner's value
// never collides with a caller's own context keys.
type ctxKey struct{}

// WithBoundRunner attaches a BoundRunner for rc to ctx, so a plugin
// Runner invoked with this ctx can call RunnerFromContext to reach
// SetRunnerValue/GetRunnerValue without the caller threading a
// ScratchStore parameter through every Runner signature.
func WithBoundRunner(ctx context.Context, store *ScratchStore, rc RunnerContext) context.Context {
	if store == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, &BoundRunner{store: store, ctx: rc})
}

// RunnerFromContext retrieves the BoundRunner attached by WithBoundRunner,
// if any.
func RunnerFromContext(ctx context.Context) (*BoundRunner, bool) {
	br, ok := ctx.Value(ctxKey{}).(*BoundRunner)
	return br, ok
}
