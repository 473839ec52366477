package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	pkgsecrets "github.com/Checker-Finance/instrument-provider/pkg/secrets"
)

// Resolver turns named secrets into typed configuration, caching the parsed
// result so the secrets backend is hit once per TTL.
type Resolver[T any] struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
	parse    func(map[string]string) (T, error)
}

// NewResolver constructs a resolver. parse extracts T from the raw secret map
// and should validate required fields.
func NewResolver[T any](
	logger *zap.Logger,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
	parse func(map[string]string) (T, error),
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		provider: provider,
		cache:    cache,
		parse:    parse,
	}
}

// Resolve returns the cached value for name or fetches and parses it.
func (r *Resolver[T]) Resolve(ctx context.Context, name string) (T, error) {
	if v, ok := r.cache.Get(name); ok {
		return v, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve secret %q: %w", name, err)
	}

	v, err := r.parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(name, v)
	r.logger.Info("secrets.resolved", zap.String("key", name))
	return v, nil
}

// Invalidate drops the cached value so the next Resolve refetches it.
func (r *Resolver[T]) Invalidate(name string) {
	r.cache.Bust(name)
}
