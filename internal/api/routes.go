package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/instrument-provider/internal/provider"
)

// Connectivity reports whether the event bus is reachable.
type Connectivity interface {
	Connected() bool
}

// HealthChecker pings a backing store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes mounts metrics, health and the v1 API. bus and st may be nil
// when the service runs without them.
func RegisterRoutes(app *fiber.App, h *InstrumentHandler, bus Connectivity, st HealthChecker) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"provider": h.service.State().String(),
			"nats":     "disabled",
			"store":    "disabled",
		}
		status := "ok"
		code := fiber.StatusOK

		if h.service.State() != provider.StateLoaded {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		if bus != nil {
			checks["nats"] = "ok"
			if !bus.Connected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		if st != nil {
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			checks["store"] = "ok"
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status":      status,
			"venue":       h.service.Venue(),
			"instruments": h.service.Count(),
			"checks":      checks,
		})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/instruments", h.ListInstruments)
	v1.Get("/instruments/:id", h.GetInstrument)
	v1.Post("/instruments/reload", h.Reload)
	v1.Get("/currencies", h.ListCurrencies)
	v1.Get("/currencies/:code", h.GetCurrency)
}
