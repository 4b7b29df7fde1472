package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of transaction kinds the processor understands.
type Type string

const (
	TypeDeposit  Type = "DEPOSIT"
	TypePurchase Type = "PURCHASE"
	TypeRefund   Type = "REFUND"
)

// ParseType maps a wire string onto a Type. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeDeposit, TypePurchase, TypeRefund:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Transaction is a ledger row. Amount is always a non-negative magnitude in
// minor units; its sign is derived from Type when computing balances.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Amount         int64
	Type           Type
	Status         Status
	RefundOf       *uuid.UUID
	IdempotencyKey string
	CreatedAt      time.Time
	RetryCount     int
}

// Account is provisioned outside the processor and is read-only here. It has
// no balance column; balances are always derived from transactions.
type Account struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
