// Package rate keeps one token bucket per venue or client key.
package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines rate limiting parameters for a client/venue.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

func (c Config) limiter() *rate.Limiter {
	rps := c.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Manager holds per-key limiters created lazily from the defaults.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*rate.Limiter),
		defaults: defaults,
	}
}

// Limiter returns the limiter for key, creating it on first use.
func (m *Manager) Limiter(key string) *rate.Limiter {
	m.mu.RLock()
	lim, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return lim
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim = m.defaults.limiter()
	m.limiters[key] = lim
	return lim
}

// Wait blocks until key has a token or ctx is done.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.Limiter(key).Wait(ctx)
}
