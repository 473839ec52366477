package provider

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/Checker-Finance/instrument-provider/internal/currency"
	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// Sink is the write surface a Loader uses to populate the cache.
type Sink interface {
	Add(inst model.Instrument) error
	AddBulk(insts []model.Instrument) error
	AddCurrency(c model.Currency) error
}

// Cache holds instruments keyed by id and currencies keyed by code. Entries are
// only ever added or overwritten, never removed.
type Cache struct {
	mu          sync.RWMutex
	instruments map[model.InstrumentID]model.Instrument
	order       []model.InstrumentID
	currencies  map[string]model.Currency
	registry    *currency.Registry
}

// NewCache creates an empty cache backed by the given currency registry.
func NewCache(registry *currency.Registry) *Cache {
	return &Cache{
		instruments: make(map[model.InstrumentID]model.Instrument),
		currencies:  make(map[string]model.Currency),
		registry:    registry,
	}
}

// Add inserts or overwrites inst by its id.
func (c *Cache) Add(inst model.Instrument) error {
	if err := validateInstrument(inst); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(inst)
	return nil
}

// AddBulk validates every instrument and then adds them all under one lock:
// either the whole list is applied or none of it is.
func (c *Cache) AddBulk(insts []model.Instrument) error {
	if insts == nil {
		return model.InvalidArgumentf("instruments list is nil")
	}
	var errs error
	for i, inst := range insts {
		if err := validateInstrument(inst); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("instruments[%d]: %w", i, err))
		}
	}
	if errs != nil {
		return errs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range insts {
		c.put(inst)
	}
	return nil
}

func (c *Cache) put(inst model.Instrument) {
	if _, exists := c.instruments[inst.ID]; !exists {
		c.order = append(c.order, inst.ID)
	}
	c.instruments[inst.ID] = inst.Clone()
}

func validateInstrument(inst model.Instrument) error {
	if inst.ID.IsZero() {
		return model.InvalidArgumentf("instrument id %q is incomplete", inst.ID.String())
	}
	return nil
}

// AddCurrency inserts or overwrites cur locally and registers it process-wide
// unless the registry already knows the code.
func (c *Cache) AddCurrency(cur model.Currency) error {
	if strings.TrimSpace(cur.Code) == "" {
		return model.InvalidArgumentf("currency code is empty")
	}
	c.mu.Lock()
	c.currencies[cur.Code] = cur
	c.mu.Unlock()

	return c.registry.Register(cur, false)
}

// Find returns the instrument for id. It never triggers a load. Read paths
// hand out clones, so callers may modify what they receive.
func (c *Cache) Find(id model.InstrumentID) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[id]
	return inst.Clone(), ok
}

// GetAll returns a copy of every instrument keyed by id.
func (c *Cache) GetAll() map[model.InstrumentID]model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[model.InstrumentID]model.Instrument, len(c.instruments))
	for k, v := range c.instruments {
		result[k] = v.Clone()
	}
	return result
}

// ListAll returns every instrument in insertion order.
func (c *Cache) ListAll() []model.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]model.Instrument, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.instruments[id].Clone())
	}
	return result
}

// Currencies returns a copy of the locally held currencies.
func (c *Cache) Currencies() map[string]model.Currency {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]model.Currency, len(c.currencies))
	for k, v := range c.currencies {
		result[k] = v
	}
	return result
}

// Currency returns the currency for code, looking in the local map first and then
// in the registry. Registry hits are not copied into the local map. A code nobody
// knows returns nil, nil.
func (c *Cache) Currency(code string) (*model.Currency, error) {
	if strings.TrimSpace(code) == "" {
		return nil, model.InvalidArgumentf("currency code is empty")
	}

	c.mu.RLock()
	cur, ok := c.currencies[code]
	c.mu.RUnlock()
	if ok {
		metrics.IncCurrencyLookup("local")
		return &cur, nil
	}

	if cur, ok := c.registry.Lookup(code); ok {
		metrics.IncCurrencyLookup("registry")
		return &cur, nil
	}
	metrics.IncCurrencyLookup("miss")
	return nil, nil
}

// Count returns the number of instruments held.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instruments)
}
