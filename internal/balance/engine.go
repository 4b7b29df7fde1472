package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger-processor/internal/ledger"
)

// Engine derives account balances from approved ledger history. Nothing is
// memoized; every call reads the store.
type Engine struct {
	store ledger.Store
}

// NewEngine builds an Engine over the given store.
func NewEngine(store ledger.Store) *Engine {
	return &Engine{store: store}
}

// Compute returns the current balance of accountID. An account with no
// approved transactions has balance 0.
func (e *Engine) Compute(ctx context.Context, accountID uuid.UUID) (int64, error) {
	balance, err := e.store.SumApproved(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("compute balance for %s: %w", accountID, err)
	}
	return balance, nil
}
