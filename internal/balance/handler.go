package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger-processor/internal/cache"
	"github.com/congo-pay/ledger-processor/internal/ledger"
)

// Handler recomputes an account balance and publishes it to the cache.
type Handler struct {
	store  ledger.Store
	engine *Engine
	cache  cache.BalanceCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewHandler wires a balance handler. A non-positive ttl falls back to cache.DefaultTTL.
func NewHandler(store ledger.Store, engine *Engine, c cache.BalanceCache, ttl time.Duration, logger *slog.Logger) *Handler {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Handler{store: store, engine: engine, cache: c, ttl: ttl, logger: logger}
}

// Refresh writes the freshly computed balance of accountID to the cache. It
// reports false without error when the account does not exist.
func (h *Handler) Refresh(ctx context.Context, accountID uuid.UUID) (bool, error) {
	if _, err := h.store.FindAccount(ctx, accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			h.logger.Warn("balance refresh skipped, account not found", slog.String("account_id", accountID.String()))
			return false, nil
		}
		return false, fmt.Errorf("load account %s: %w", accountID, err)
	}

	balance, err := h.engine.Compute(ctx, accountID)
	if err != nil {
		return false, err
	}

	if err := h.cache.SetBalance(ctx, accountID, balance, h.ttl); err != nil {
		return false, err
	}

	h.logger.Debug("balance published", slog.String("account_id", accountID.String()), slog.Int64("balance", balance))
	return true, nil
}
