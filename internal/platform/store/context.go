package store

import "context"

type runIDKey struct{}

// WithRunID attaches a pipeline tick identifier to the context, so every
// query issued during a tick's transaction carries the same correlation id
// in tracing and logs.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID retrieves the pipeline tick identifier from context if present
func RunID(ctx context.Context) (string, bool) {
	v := ctx.Value(runIDKey{})
	if v == nil {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}
