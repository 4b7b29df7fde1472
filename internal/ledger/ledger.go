package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrTransactionNotFound indicates no transaction row exists for the identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAccountNotFound indicates no account row exists for the identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAlreadyProcessed is returned by conditional writes when the transaction
	// has already left PENDING. Callers treat it as an idempotent no-op.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrAlreadyRefunded indicates the target transaction already has an
	// approved refund linked to it.
	ErrAlreadyRefunded = errors.New("transaction already refunded")

	// ErrInsufficientFunds occurs when the account balance cannot cover a purchase.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownType indicates a transaction type string outside the closed set.
	ErrUnknownType = errors.New("unknown transaction type")
)

// Store defines the contract implemented by ledger backends (e.g. Postgres).
//
// Every status write is conditional on the row still being PENDING and returns
// ErrAlreadyProcessed otherwise, so terminal states cannot be overwritten.
type Store interface {
	FindTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	FindAccount(ctx context.Context, id uuid.UUID) (Account, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// LinkRefund records the refund target and approves the refund in a single write.
	LinkRefund(ctx context.Context, id, target uuid.UUID) error
	HasApprovedRefund(ctx context.Context, target uuid.UUID) (bool, error)
	// ApprovePurchase approves a pending purchase only if the account balance
	// still covers its amount at write time.
	ApprovePurchase(ctx context.Context, id uuid.UUID) error
	SumApproved(ctx context.Context, accountID uuid.UUID) (int64, error)
}
