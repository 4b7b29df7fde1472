package processor

import (
	"context"
	"fmt"

	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/queue"
)

// purchase approves only when the current balance covers the amount. The
// pre-check here rejects early; ApprovePurchase repeats it atomically.
func (p *Processor) purchase(ctx context.Context, evt queue.TransactionEvent, res Result) (Result, error) {
	tx, res, err := p.load(ctx, evt, ledger.TypePurchase, res)
	if err != nil || tx == nil {
		return res, err
	}

	available, err := p.engine.Compute(ctx, tx.AccountID)
	if err != nil {
		return failed(res), fmt.Errorf("purchase %s: %w", tx.ID, err)
	}
	if available < tx.Amount {
		return p.reject(ctx, res, ledger.ErrInsufficientFunds)
	}

	return p.approved(ctx, res, p.store.ApprovePurchase(ctx, tx.ID))
}
