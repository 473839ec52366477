// Package provider caches venue instrument and currency definitions and
// coordinates their loading.
//
// A Provider embeds a Cache and adds single-flight initialization on top of a
// venue-specific Loader: however many goroutines call Initialize at once, the
// configured load runs once and every caller observes its outcome. A failed
// attempt leaves the provider Unloaded so the next Initialize retries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/instrument-provider/internal/currency"
	"github.com/Checker-Finance/instrument-provider/internal/jobs"
	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// State is the provider's initialization state.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const initializeKey = "initialize"

// Scheduler is the asynchronous execution context the synchronous load
// entry points hand work to while it is running.
type Scheduler interface {
	Running() bool
	Submit(name string, fn func(ctx context.Context) error) *jobs.Result
}

// Option customizes a Provider.
type Option func(*Provider)

// WithScheduler attaches the execution context used by LoadAll, LoadIDs and Load.
func WithScheduler(s Scheduler) Option {
	return func(p *Provider) { p.scheduler = s }
}

// Provider is a Cache with single-flight initialization.
type Provider struct {
	*Cache

	logger         *zap.Logger
	loader         Loader
	scheduler      Scheduler
	venue          string
	loadAllOnStart bool
	loadIDsOnStart []string
	filters        Filters
	loadTimeout    time.Duration

	state atomic.Int32
	group singleflight.Group
	hooks chan struct{} // one token: load hooks never overlap
}

// New constructs an empty, unloaded provider.
func New(logger *zap.Logger, loader Loader, registry *currency.Registry, cfg Config, opts ...Option) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		return nil, model.InvalidArgumentf("loader is nil")
	}
	if registry == nil {
		return nil, model.InvalidArgumentf("currency registry is nil")
	}
	if cfg.Venue == "" {
		return nil, model.InvalidArgumentf("venue is empty")
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}

	p := &Provider{
		Cache:          NewCache(registry),
		logger:         logger.With(zap.String("venue", cfg.Venue)),
		loader:         loader,
		venue:          cfg.Venue,
		loadAllOnStart: cfg.LoadAll,
		loadIDsOnStart: dedupe(cfg.LoadIDs),
		filters:        cfg.Filters,
		loadTimeout:    cfg.LoadTimeout,
		hooks:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger.Info("provider.ready",
		zap.Bool("load_all", p.loadAllOnStart),
		zap.Strings("load_ids", p.loadIDsOnStart),
		zap.Duration("load_timeout", p.loadTimeout))
	return p, nil
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Venue returns the venue this provider serves.
func (p *Provider) Venue() string { return p.venue }

// Filters returns the filters configured for Initialize.
func (p *Provider) Filters() Filters { return p.filters }

// State returns the current initialization state.
func (p *Provider) State() State { return State(p.state.Load()) }

// IsLoaded reports whether an initialization attempt has succeeded.
func (p *Provider) IsLoaded() bool { return p.State() == StateLoaded }

// IsLoading reports whether an initialization attempt is in flight.
func (p *Provider) IsLoading() bool { return p.State() == StateLoading }

// Initialize performs the configured start-up load once. Once loaded it returns
// immediately. Callers arriving while a load is in flight block until it
// finishes and receive its error without starting a load of their own.
//
// The load runs detached from the first caller's cancellation and is bounded by
// the configured load timeout, so a caller that stops waiting never leaves the
// provider stuck in StateLoading. ctx bounds only this caller's wait.
func (p *Provider) Initialize(ctx context.Context) error {
	if p.IsLoaded() {
		return nil
	}
	if p.IsLoading() {
		metrics.IncWaiter(p.venue)
		p.logger.Debug("provider.awaiting_loading")
	}

	ch := p.group.DoChan(initializeKey, func() (any, error) {
		return nil, p.initializeOnce(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) initializeOnce(ctx context.Context) error {
	// a previous flight may have finished between the caller's check and here
	if p.IsLoaded() {
		return nil
	}
	p.state.Store(int32(StateLoading))

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
	defer cancel()

	start := time.Now()
	err := p.loadOnStart(loadCtx)
	metrics.ObserveDuration(metrics.LoadDuration, start, p.venue, "initialize")
	metrics.IncLoad(p.venue, "initialize", err)

	if err != nil {
		p.state.Store(int32(StateUnloaded))
		p.logger.Error("provider.initialize_failed",
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("initialize %s instruments: %w", p.venue, err)
	}

	p.state.Store(int32(StateLoaded))
	p.logger.Info("provider.loaded",
		zap.Int("count", p.Count()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (p *Provider) loadOnStart(ctx context.Context) error {
	switch {
	case p.loadAllOnStart:
		return p.LoadAllAsync(ctx, p.filters)
	case len(p.loadIDsOnStart) > 0:
		ids := make([]model.InstrumentID, 0, len(p.loadIDsOnStart))
		for _, s := range p.loadIDsOnStart {
			id, err := model.ParseInstrumentID(s)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return p.LoadIDsAsync(ctx, ids, p.filters)
	default:
		p.logger.Debug("provider.nothing_to_load")
		return nil
	}
}

// LoadAllAsync loads every instrument through the venue loader. It ignores the
// loaded state, so it also serves as an explicit refresh.
func (p *Provider) LoadAllAsync(ctx context.Context, filters Filters) error {
	return p.runHook(ctx, "load_all", func(ctx context.Context) error {
		return p.loader.LoadAll(ctx, p.Cache, filters)
	})
}

// LoadIDsAsync loads the given instruments. Every id must belong to the
// provider's venue; otherwise nothing is loaded and ErrInvalidArgument is returned.
func (p *Provider) LoadIDsAsync(ctx context.Context, ids []model.InstrumentID, filters Filters) error {
	if err := p.validateIDs(ids); err != nil {
		return err
	}
	return p.runHook(ctx, "load_ids", func(ctx context.Context) error {
		return p.loader.LoadIDs(ctx, p.Cache, ids, filters)
	})
}

// LoadAsync loads a single instrument.
func (p *Provider) LoadAsync(ctx context.Context, id model.InstrumentID, filters Filters) error {
	if err := p.validateID(id); err != nil {
		return err
	}
	return p.runHook(ctx, "load", func(ctx context.Context) error {
		return p.loader.Load(ctx, p.Cache, id, filters)
	})
}

func (p *Provider) validateIDs(ids []model.InstrumentID) error {
	if ids == nil {
		return model.InvalidArgumentf("instrument ids are nil")
	}
	for _, id := range ids {
		if err := p.validateID(id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) validateID(id model.InstrumentID) error {
	if id.IsZero() {
		return model.InvalidArgumentf("instrument id %q is incomplete", id.String())
	}
	if id.Venue != p.venue {
		return model.InvalidArgumentf("instrument id %s does not belong to venue %s", id, p.venue)
	}
	return nil
}

func (p *Provider) runHook(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case p.hooks <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.hooks }()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveDuration(metrics.LoadDuration, start, p.venue, op)
	metrics.IncLoad(p.venue, op, err)
	metrics.SetCached(p.venue, p.Count())

	if err != nil {
		p.logger.Warn("provider.load_failed", zap.String("operation", op), zap.Error(err))
		return fmt.Errorf("%s %s: %w", p.venue, op, err)
	}
	p.logger.Debug("provider.load_done",
		zap.String("operation", op),
		zap.Int("count", p.Count()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// LoadAll is the synchronous entry point for LoadAllAsync. Without a running
// scheduler the load runs to completion before LoadAll returns. With one, the
// load is handed to the scheduler and the returned result is still pending.
func (p *Provider) LoadAll(ctx context.Context, filters Filters) *jobs.Result {
	return p.dispatch(ctx, "load_all", func(ctx context.Context) error {
		return p.LoadAllAsync(ctx, filters)
	})
}

// LoadIDs is the synchronous entry point for LoadIDsAsync. Invalid ids fail
// the returned result immediately on either path.
func (p *Provider) LoadIDs(ctx context.Context, ids []model.InstrumentID, filters Filters) *jobs.Result {
	if err := p.validateIDs(ids); err != nil {
		return jobs.Completed(err)
	}
	return p.dispatch(ctx, "load_ids", func(ctx context.Context) error {
		return p.LoadIDsAsync(ctx, ids, filters)
	})
}

// Load is the synchronous entry point for LoadAsync.
func (p *Provider) Load(ctx context.Context, id model.InstrumentID, filters Filters) *jobs.Result {
	if err := p.validateID(id); err != nil {
		return jobs.Completed(err)
	}
	return p.dispatch(ctx, "load", func(ctx context.Context) error {
		return p.LoadAsync(ctx, id, filters)
	})
}

func (p *Provider) dispatch(ctx context.Context, op string, fn func(ctx context.Context) error) *jobs.Result {
	if p.scheduler != nil && p.scheduler.Running() {
		res := p.scheduler.Submit(p.venue+"."+op, fn)
		if res.Pending() || !errors.Is(res.Err(), jobs.ErrRunnerStopped) {
			return res
		}
		// stopped between Running and Submit
		p.logger.Debug("provider.scheduler_stopped_running_inline", zap.String("operation", op))
	}
	return jobs.Completed(fn(ctx))
}
