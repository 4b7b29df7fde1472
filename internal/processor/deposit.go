package processor

import (
	"context"

	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/queue"
)

func (p *Processor) deposit(ctx context.Context, evt queue.TransactionEvent, res Result) (Result, error) {
	tx, res, err := p.load(ctx, evt, ledger.TypeDeposit, res)
	if err != nil || tx == nil {
		return res, err
	}
	return p.approved(ctx, res, p.store.UpdateStatus(ctx, tx.ID, ledger.StatusApproved))
}
