package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/congo-pay/ledger-processor/internal/middleware"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BalanceReader serves cached balances.
type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
	Ping(ctx context.Context) error
}

// BalanceRequester enqueues a balance recomputation.
type BalanceRequester interface {
	PublishBalanceRequest(ctx context.Context, accountID uuid.UUID) error
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	DB       Pinger
	Balances BalanceReader
	Requests BalanceRequester
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Setup configures middlewares and the operational routes.
func Setup(app *fiber.App, d Deps) {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Gatherer)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterBalanceRoutes(api, d.Balances, d.Requests, d.Logger)
}
