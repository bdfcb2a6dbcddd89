package session

import (
	"context"

	"teamcards/internal/domain"
)

// ViewFromContext extracts the view snapshot taken for the current request.
func ViewFromContext(ctx context.Context) (domain.View, bool) {
	v, ok := ctx.Value(viewKey{}).(domain.View)
	return v, ok
}

// ContextWithView stores a view snapshot in the context.
func ContextWithView(ctx context.Context, v domain.View) context.Context {
	return context.WithValue(ctx, viewKey{}, v)
}

type viewKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
