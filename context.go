package saishield

import (
	"context"
)

type contextKey struct{}

// WithService attaches the service to a context so request handlers deep in
// an embedding application can reach the cache and limiter.
func WithService(ctx context.Context, s *Service) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Service, bool) {
	s, ok := ctx.Value(contextKey{}).(*Service)
	return s, ok
}
