package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/instrument-provider/internal/jobs"
	"github.com/Checker-Finance/instrument-provider/internal/provider"
	"github.com/Checker-Finance/instrument-provider/pkg/model"
)

// InstrumentService is the read and reload surface of a provider.
type InstrumentService interface {
	Venue() string
	State() provider.State
	Filters() provider.Filters
	Count() int
	ListAll() []model.Instrument
	Find(id model.InstrumentID) (model.Instrument, bool)
	Currencies() map[string]model.Currency
	Currency(code string) (*model.Currency, error)
	LoadAll(ctx context.Context, filters provider.Filters) *jobs.Result
}

// InstrumentHandler serves cached instruments and currencies over HTTP.
type InstrumentHandler struct {
	logger    *zap.Logger
	service   InstrumentService
	publisher jobs.EventPublisher
	// bounds the background wait for a scheduled reload
	reloadTimeout time.Duration
}

// NewInstrumentHandler creates a handler. publisher is optional.
func NewInstrumentHandler(logger *zap.Logger, service InstrumentService, publisher jobs.EventPublisher) *InstrumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentHandler{
		logger:        logger,
		service:       service,
		publisher:     publisher,
		reloadTimeout: provider.DefaultLoadTimeout,
	}
}

// ListInstruments returns every cached instrument in insertion order.
// An optional ?venue= filter that names another venue yields an empty list.
func (h *InstrumentHandler) ListInstruments(c *fiber.Ctx) error {
	if venue := c.Query("venue"); venue != "" && venue != h.service.Venue() {
		return c.JSON(InstrumentListResponse{Venue: venue, Count: 0, Instruments: []model.Instrument{}})
	}
	insts := h.service.ListAll()
	return c.JSON(InstrumentListResponse{
		Venue:       h.service.Venue(),
		Count:       len(insts),
		Instruments: insts,
	})
}

// GetInstrument looks up one instrument by "SYMBOL.VENUE".
func (h *InstrumentHandler) GetInstrument(c *fiber.Ctx) error {
	id, err := model.ParseInstrumentID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	inst, ok := h.service.Find(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instrument not found: " + id.String()})
	}
	return c.JSON(inst)
}

func (h *InstrumentHandler) ListCurrencies(c *fiber.Ctx) error {
	return c.JSON(h.service.Currencies())
}

// GetCurrency checks the provider's own currencies, then the process-wide registry.
func (h *InstrumentHandler) GetCurrency(c *fiber.Ctx) error {
	cur, err := h.service.Currency(c.Params("code"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if cur == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "currency not found: " + c.Params("code")})
	}
	return c.JSON(cur)
}

// Reload triggers a full load with the provider's configured filters.
func (h *InstrumentHandler) Reload(c *fiber.Ctx) error {
	start := time.Now()
	res := h.service.LoadAll(c.UserContext(), h.service.Filters())

	if res.Pending() {
		go h.awaitReload(res, start)
		return c.Status(fiber.StatusAccepted).JSON(ReloadResponse{
			Venue:  h.service.Venue(),
			Status: "pending",
		})
	}

	if err := res.Err(); err != nil {
		h.logger.Error("api.reload_failed", zap.Error(err))
		status := fiber.StatusBadGateway
		if errors.Is(err, model.ErrNotImplemented) {
			status = fiber.StatusNotImplemented
		}
		return c.Status(status).JSON(ReloadResponse{
			Venue:  h.service.Venue(),
			Status: "failed",
			Error:  err.Error(),
		})
	}

	h.announce(c.UserContext(), start)
	return c.Status(fiber.StatusOK).JSON(ReloadResponse{
		Venue:  h.service.Venue(),
		Status: "loaded",
		Count:  h.service.Count(),
	})
}

func (h *InstrumentHandler) awaitReload(res *jobs.Result, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), h.reloadTimeout)
	defer cancel()
	if err := res.Wait(ctx); err != nil {
		h.logger.Error("api.reload_failed", zap.Error(err))
		return
	}
	h.announce(ctx, start)
}

func (h *InstrumentHandler) announce(ctx context.Context, start time.Time) {
	if h.publisher == nil {
		return
	}
	evt := model.InstrumentsLoadedEvent{
		Venue:      h.service.Venue(),
		Count:      h.service.Count(),
		Trigger:    "api",
		LoadedAt:   time.Now().UTC(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := h.publisher.PublishInstrumentsLoaded(ctx, evt); err != nil {
		h.logger.Warn("api.reload_publish_failed", zap.Error(err))
	}
}
