// Package currency holds the process-wide currency registry.
//
// A Registry is created once at process start (NewRegistry) and handed to every
// instrument provider. It is never reset during normal operation; Clear exists for
// test harnesses.
package currency

import (
	"strings"
	"sync"

	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// Registry is a thread-safe lookup of currencies by code.
type Registry struct {
	mu    sync.RWMutex
	items map[string]model.Currency
}

// NewRegistry returns a registry seeded with the built-in currency definitions.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for _, c := range builtin {
		r.items[c.Code] = c
	}
	return r
}

// NewEmptyRegistry returns a registry with no definitions.
func NewEmptyRegistry() *Registry {
	return &Registry{items: make(map[string]model.Currency)}
}

// Register adds c. An existing definition with the same code is replaced only
// when overwrite is true; otherwise the call is a silent no-op.
func (r *Registry) Register(c model.Currency, overwrite bool) error {
	if strings.TrimSpace(c.Code) == "" {
		return model.InvalidArgumentf("currency code is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[c.Code]; exists && !overwrite {
		return nil
	}
	r.items[c.Code] = c
	return nil
}

// Lookup returns the currency registered under code.
func (r *Registry) Lookup(code string) (model.Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[code]
	return c, ok
}

// Len returns the number of registered currencies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Clear removes every definition. Only for tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.items = make(map[string]model.Currency)
	r.mu.Unlock()
}
