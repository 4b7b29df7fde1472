package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrMiss is returned by reads when no balance is cached for an account.
var ErrMiss = errors.New("balance not cached")

// DefaultTTL is how long a published balance stays readable.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "balance:"

// BalanceCache publishes derived balances for readers.
type BalanceCache interface {
	// SetBalance fully overwrites the cached balance and resets its TTL.
	SetBalance(ctx context.Context, accountID uuid.UUID, balance int64, ttl time.Duration) error
	Balance(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// Key returns the cache key holding an account's balance.
func Key(accountID uuid.UUID) string {
	return keyPrefix + accountID.String()
}
