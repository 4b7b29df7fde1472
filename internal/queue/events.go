package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTransactionsQueue carries newly created transactions.
	DefaultTransactionsQueue = "transactions_queue"
	// DefaultBalanceQueue carries balance recomputation requests.
	DefaultBalanceQueue = "calculate_balance_queue"
)

// NullString mirrors the JSON shape producers emit for nullable text columns.
type NullString struct {
	String string `json:"String"`
	Valid  bool   `json:"Valid"`
}

// TransactionEvent is the body of a transactions_queue message.
type TransactionEvent struct {
	ID                  uuid.UUID  `json:"id"`
	AccountID           uuid.UUID  `json:"account_id"`
	CardID              NullString `json:"card_id"`
	AmountCents         int64      `json:"amount_cents"`
	Status              string     `json:"status"`
	Type                string     `json:"type"`
	RefundTransactionID NullString `json:"refund_transaction_id"`
	IdempotencyKey      string     `json:"idempotency_key"`
	CreatedAt           time.Time  `json:"created_at"`
	RetryCount          int        `json:"retry_count"`
}

// BalanceRequest is the body of a calculate_balance_queue message.
type BalanceRequest struct {
	AccountID uuid.UUID `json:"account_id"`
}

// DecodeTransaction parses a transactions_queue body.
func DecodeTransaction(body []byte) (TransactionEvent, error) {
	var evt TransactionEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return TransactionEvent{}, fmt.Errorf("decode transaction event: %w", err)
	}
	if evt.ID == uuid.Nil || evt.AccountID == uuid.Nil {
		return TransactionEvent{}, fmt.Errorf("decode transaction event: missing id or account_id")
	}
	return evt, nil
}

// DecodeBalanceRequest parses a calculate_balance_queue body.
func DecodeBalanceRequest(body []byte) (BalanceRequest, error) {
	var req BalanceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return BalanceRequest{}, fmt.Errorf("decode balance request: %w", err)
	}
	if req.AccountID == uuid.Nil {
		return BalanceRequest{}, fmt.Errorf("decode balance request: missing account_id")
	}
	return req, nil
}
