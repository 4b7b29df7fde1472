package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/congo-pay/ledger-processor/internal/cache"
	"github.com/congo-pay/ledger-processor/internal/middleware"
)

// RegisterBalanceRoutes serves cached balances. A miss enqueues a
// recomputation and answers 202 so the client can poll.
func RegisterBalanceRoutes(r fiber.Router, balances BalanceReader, requests BalanceRequester, logger *slog.Logger) {
	r.Get("/accounts/:accountId/balance", func(c *fiber.Ctx) error {
		accountID, err := uuid.Parse(c.Params("accountId"))
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid account id")
		}

		ctx := c.UserContext()
		value, err := balances.Balance(ctx, accountID)
		if err == nil {
			return c.Status(http.StatusOK).JSON(fiber.Map{
				"account_id": accountID.String(),
				"balance":    value,
			})
		}
		if !errors.Is(err, cache.ErrMiss) {
			logger.Warn("balance cache read failed",
				slog.String("account_id", accountID.String()),
				slog.String("request_id", middleware.RequestIDFrom(c)),
				slog.Any("error", err))
		}

		if err := requests.PublishBalanceRequest(ctx, accountID); err != nil {
			logger.Error("balance request publish failed",
				slog.String("account_id", accountID.String()),
				slog.String("request_id", middleware.RequestIDFrom(c)),
				slog.Any("error", err))
			return fiber.NewError(http.StatusServiceUnavailable, "balance temporarily unavailable")
		}
		return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "processing"})
	})
}
