package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/metrics"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// Reloader is the subset of the instrument provider the refresher drives.
type Reloader interface {
	LoadAllAsync(ctx context.Context, filters map[string]any) error
	Count() int
}

// EventPublisher announces completed loads.
type EventPublisher interface {
	PublishInstrumentsLoaded(ctx context.Context, evt model.InstrumentsLoadedEvent) error
}

// Refresher periodically reloads every instrument of a venue and emits an
// instruments.loaded event after each successful cycle.
type Refresher struct {
	logger    *zap.Logger
	reloader  Reloader
	publisher EventPublisher // optional
	venue     string
	filters   map[string]any
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewRefresher constructs a background job that runs periodically.
func NewRefresher(logger *zap.Logger, reloader Reloader, pub EventPublisher, venue string, filters map[string]any, interval time.Duration) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		logger:    logger,
		reloader:  reloader,
		publisher: pub,
		venue:     venue,
		filters:   filters,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("refresher.started", zap.String("venue", r.venue), zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.runOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// runOnce executes one refresh cycle.
func (r *Refresher) runOnce(ctx context.Context) {
	start := time.Now()
	r.logger.Info("refresher.running", zap.String("venue", r.venue))

	if err := r.reloader.LoadAllAsync(ctx, r.filters); err != nil {
		r.logger.Error("refresher.reload_failed", zap.String("venue", r.venue), zap.Error(err))
		metrics.IncError("refresher", "reload_failed")
		return
	}

	if r.publisher != nil {
		evt := model.InstrumentsLoadedEvent{
			Venue:      r.venue,
			Count:      r.reloader.Count(),
			Trigger:    "refresh",
			LoadedAt:   time.Now().UTC(),
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err := r.publisher.PublishInstrumentsLoaded(ctx, evt); err != nil {
			r.logger.Warn("refresher.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("refresher.success",
		zap.String("venue", r.venue),
		zap.Int("count", r.reloader.Count()),
		zap.Duration("duration", time.Since(start)))
}
