package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/queue"
)

// refund reverses an approved deposit or purchase of the same account. Every
// failed check leaves the refund REJECTED; only an unusable target
// identifier is also returned as a fault.
func (p *Processor) refund(ctx context.Context, evt queue.TransactionEvent, res Result) (Result, error) {
	tx, res, err := p.load(ctx, evt, ledger.TypeRefund, res)
	if err != nil || tx == nil {
		return res, err
	}

	targetID, err := refundTarget(evt.RefundTransactionID)
	if err != nil {
		res, rerr := p.reject(ctx, res, err)
		if rerr != nil || res.Outcome == OutcomeAlreadyProcessed {
			return res, rerr
		}
		return res, err
	}

	target, err := p.store.FindTransaction(ctx, targetID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return p.reject(ctx, res, fmt.Errorf("%w: %s", ErrRefundTargetNotFound, targetID))
		}
		return failed(res), fmt.Errorf("load refund target %s: %w", targetID, err)
	}

	refunded, err := p.store.HasApprovedRefund(ctx, targetID)
	if err != nil {
		return failed(res), fmt.Errorf("check refunds of %s: %w", targetID, err)
	}

	switch {
	case refunded:
		return p.reject(ctx, res, ledger.ErrAlreadyRefunded)
	case target.Status != ledger.StatusApproved:
		return p.reject(ctx, res, ErrRefundTargetNotApproved)
	case target.AccountID != tx.AccountID:
		return p.reject(ctx, res, ErrRefundAccountMismatch)
	case target.Type == ledger.TypeRefund:
		return p.reject(ctx, res, ErrRefundOfRefund)
	}

	// the unique index settles a concurrent refund of the same target
	return p.approved(ctx, res, p.store.LinkRefund(ctx, tx.ID, targetID))
}

func refundTarget(ref queue.NullString) (uuid.UUID, error) {
	raw := strings.TrimSpace(ref.String)
	if !ref.Valid || raw == "" {
		return uuid.Nil, ErrInvalidRefundTarget
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidRefundTarget, raw)
	}
	return id, nil
}
