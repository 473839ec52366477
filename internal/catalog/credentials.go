package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/Checker-Finance/instrument-provider/internal/secrets"
)

// CredentialSource supplies the API key sent with catalog requests.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
	// Invalidate drops any cached key after the catalog rejected it.
	Invalidate()
}

// StaticKey is a fixed API key. The empty key sends no header.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) { return string(k), nil }
func (StaticKey) Invalidate()                              {}

// SecretKey reads the API key from a named secret through a caching resolver.
type SecretKey struct {
	resolver *secrets.Resolver[string]
	name     string
}

func NewSecretKey(resolver *secrets.Resolver[string], name string) *SecretKey {
	return &SecretKey{resolver: resolver, name: name}
}

func (s *SecretKey) APIKey(ctx context.Context) (string, error) {
	return s.resolver.Resolve(ctx, s.name)
}

func (s *SecretKey) Invalidate() { s.resolver.Invalidate(s.name) }

// ParseAPIKey extracts "api_key" from a catalog secret.
func ParseAPIKey(m map[string]string) (string, error) {
	key := strings.TrimSpace(m["api_key"])
	if key == "" {
		return "", fmt.Errorf("secret has no api_key")
	}
	return key, nil
}
