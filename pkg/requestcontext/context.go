// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by middleware (or tests) and consumed by services. Keeping
// this package free of net/http lets services import only what they need.
//
// Usage in services (read values):
//
//	controller := requestcontext.ControllerID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithControllerID(ctx, "addr1q9x...")
package requestcontext

import (
	"context"
	"time"

	id "unum/pkg/domain"
)

type (
	controllerIDKey struct{}
	requestIDKey    struct{}
	requestTimeKey  struct{}
)

// ControllerID retrieves the authenticated acting controller from the context.
// Returns the zero value if not set.
func ControllerID(ctx context.Context) id.ControllerID {
	if c, ok := ctx.Value(controllerIDKey{}).(id.ControllerID); ok {
		return c
	}
	return ""
}

// WithControllerID injects the acting controller into the context.
func WithControllerID(ctx context.Context, controller id.ControllerID) context.Context {
	return context.WithValue(ctx, controllerIDKey{}, controller)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests that don't run the middleware chain, and for workers that need a
// consistent timestamp within one batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
