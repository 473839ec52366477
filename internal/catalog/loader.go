// Package catalog loads instrument definitions from a venue's catalog API,
// which serves its instruments as a nested tree.
package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/currency"
	"github.com/Checker-Finance/instrument-provider/internal/flatten"
	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/internal/provider"
	"github.com/Checker-Finance/instrument-provider/internal/store"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

const (
	defaultChunkSize = 200
	// precision for currencies the registry does not know
	defaultCurrencyPrecision = 8
)

// TreeFetcher returns the venue's instrument tree.
type TreeFetcher interface {
	FetchTree(ctx context.Context) (flatten.Node, error)
}

// Loader implements provider.Loader on top of a catalog tree.
type Loader struct {
	logger    *zap.Logger
	fetcher   TreeFetcher
	venue     string
	registry  *currency.Registry
	store     store.Store
	chunkSize int
	now       func() time.Time
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithStore persists every load to s.
func WithStore(s store.Store) LoaderOption {
	return func(l *Loader) { l.store = s }
}

// WithChunkSize sets how many instruments go to the store per call.
func WithChunkSize(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.chunkSize = n
		}
	}
}

func NewLoader(logger *zap.Logger, fetcher TreeFetcher, venue string, registry *currency.Registry, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		logger:    logger.With(zap.String("venue", venue)),
		fetcher:   fetcher,
		venue:     venue,
		registry:  registry,
		chunkSize: defaultChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) LoadAll(ctx context.Context, sink provider.Sink, filters provider.Filters) error {
	insts, err := l.fetch(ctx, filters)
	if err != nil {
		return err
	}
	return l.apply(ctx, sink, insts)
}

// LoadIDs keeps only the requested instruments. Ids missing from the catalog
// are logged and skipped.
func (l *Loader) LoadIDs(ctx context.Context, sink provider.Sink, ids []model.InstrumentID, filters provider.Filters) error {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id.Venue != l.venue {
			return model.InvalidArgumentf("instrument id %s does not belong to venue %s", id, l.venue)
		}
		wanted[id.Symbol] = struct{}{}
	}
	if len(wanted) == 0 {
		return nil
	}

	insts, err := l.fetch(ctx, filters)
	if err != nil {
		return err
	}

	kept := insts[:0]
	for _, inst := range insts {
		if _, ok := wanted[inst.ID.Symbol]; ok {
			kept = append(kept, inst)
			delete(wanted, inst.ID.Symbol)
		}
	}
	for symbol := range wanted {
		l.logger.Warn("catalog.instrument_not_found", zap.String("symbol", symbol))
	}
	return l.apply(ctx, sink, kept)
}

func (l *Loader) Load(ctx context.Context, sink provider.Sink, id model.InstrumentID, filters provider.Filters) error {
	return l.LoadIDs(ctx, sink, []model.InstrumentID{id}, filters)
}

func (l *Loader) fetch(ctx context.Context, filters provider.Filters) ([]model.Instrument, error) {
	tree, err := l.fetcher.FetchTree(ctx)
	if err != nil {
		return nil, err
	}
	records, err := flatten.Flatten(tree, filters)
	if err != nil {
		return nil, err
	}

	asOf := l.now().UTC()
	insts := make([]model.Instrument, 0, len(records))
	for _, rec := range records {
		inst, err := ToInstrument(l.venue, rec, asOf)
		if err != nil {
			metrics.IncError("catalog", "bad_record")
			l.logger.Warn("catalog.record_skipped", zap.Error(err))
			continue
		}
		insts = append(insts, inst)
	}
	l.logger.Debug("catalog.tree_flattened",
		zap.Int("records", len(records)),
		zap.Int("instruments", len(insts)))
	return insts, nil
}

func (l *Loader) apply(ctx context.Context, sink provider.Sink, insts []model.Instrument) error {
	seen := make(map[string]struct{})
	for _, inst := range insts {
		for _, code := range []string{inst.BaseCurrency, inst.QuoteCurrency} {
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			if err := sink.AddCurrency(l.currency(code)); err != nil {
				return err
			}
		}
	}

	if err := sink.AddBulk(insts); err != nil {
		return err
	}
	l.persist(ctx, insts)
	return nil
}

func (l *Loader) currency(code string) model.Currency {
	if l.registry != nil {
		if c, ok := l.registry.Lookup(code); ok {
			return c
		}
	}
	return model.Currency{
		Code:      code,
		Precision: defaultCurrencyPrecision,
		Name:      code,
		Type:      model.CurrencyCrypto,
	}
}

// persist writes snapshots to the store. The cache is already populated, so
// store failures are logged and do not fail the load.
func (l *Loader) persist(ctx context.Context, insts []model.Instrument) {
	if l.store == nil || len(insts) == 0 {
		return
	}
	changed := 0
	for _, chunk := range flatten.Chunk(insts, l.chunkSize) {
		n, err := l.store.SaveInstruments(ctx, chunk)
		changed += n
		if err != nil {
			metrics.IncError("store", "save_failed")
			l.logger.Warn("catalog.persist_failed", zap.Int("chunk", len(chunk)), zap.Error(err))
		}
	}
	l.logger.Info("catalog.persisted",
		zap.Int("instruments", len(insts)),
		zap.Int("changed", changed))
}
