package secrets

import (
	"context"
	"fmt"
)

// Provider fetches named secrets stored as flat JSON objects.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// ErrNotFound is returned by Static for unknown names.
var ErrNotFound = fmt.Errorf("secret not found")

// Static serves secrets from memory. Used for local runs and tests.
type Static map[string]map[string]string

func (s Static) GetSecret(_ context.Context, name string) (map[string]string, error) {
	v, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make(map[string]string, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out, nil
}
