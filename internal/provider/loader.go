package provider

import (
	"context"

	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// Loader is implemented per venue. Each method populates sink with the
// instruments and currencies it fetched, honoring the venue-specific filters.
type Loader interface {
	// LoadAll loads every instrument the venue offers.
	LoadAll(ctx context.Context, sink Sink, filters Filters) error

	// LoadIDs loads only the given instruments. Ids are already validated against
	// the provider's venue.
	LoadIDs(ctx context.Context, sink Sink, ids []model.InstrumentID, filters Filters) error

	// Load loads a single instrument.
	Load(ctx context.Context, sink Sink, id model.InstrumentID, filters Filters) error
}

// UnimplementedLoader can be embedded by loaders that support only some of the
// load operations; the missing ones return model.ErrNotImplemented.
type UnimplementedLoader struct{}

func (UnimplementedLoader) LoadAll(context.Context, Sink, Filters) error {
	return model.NotImplementedf("LoadAll must be implemented by the venue loader")
}

func (UnimplementedLoader) LoadIDs(context.Context, Sink, []model.InstrumentID, Filters) error {
	return model.NotImplementedf("LoadIDs must be implemented by the venue loader")
}

func (UnimplementedLoader) Load(context.Context, Sink, model.InstrumentID, Filters) error {
	return model.NotImplementedf("Load must be implemented by the venue loader")
}
