// Package correlation threads one id through every audit entry, log line and
// outbox event produced by a single business operation.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey struct{}

// NewID returns a lexically sortable correlation id.
func NewID() string {
	return ulid.Make().String()
}

// WithID stores id on the context. Empty ids leave the context untouched.
func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the correlation id carried by ctx, if any.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Ensure returns ctx carrying a correlation id, minting one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return context.WithValue(ctx, ctxKey{}, id), id
}
