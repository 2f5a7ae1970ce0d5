package progress

import "context"

type requestIDKey struct{}

// WithRequestID attaches the request id used to stamp events emitted further
// down the call chain.
func WithRequestID(ctx context.Context, id [16]byte) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored by WithRequestID, or the zero id.
func RequestIDFrom(ctx context.Context) [16]byte {
	id, _ := ctx.Value(requestIDKey{}).([16]byte)
	return id
}
