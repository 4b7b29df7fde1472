package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/ledger-processor/internal/balance"
	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/queue"
)

// Outcome summarises what processing did to a transaction.
type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeRejected         Outcome = "rejected"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
)

// Result describes one processed event. Reason is set for rejections.
type Result struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Outcome       Outcome
	Reason        error
}

// BalanceRefresher republishes an account balance to the cache.
type BalanceRefresher interface {
	Refresh(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Processor validates transaction events against the ledger and moves them
// out of PENDING. It holds no locks; atomicity comes from the store.
type Processor struct {
	store    ledger.Store
	engine   *balance.Engine
	balances BalanceRefresher
	metrics  *Metrics
	logger   *slog.Logger
}

// New wires a Processor.
func New(store ledger.Store, engine *balance.Engine, balances BalanceRefresher, metrics *Metrics, logger *slog.Logger) *Processor {
	return &Processor{store: store, engine: engine, balances: balances, metrics: metrics, logger: logger}
}

// Process applies one transaction event. A business rejection returns a nil
// error with Outcome rejected; faults are returned as errors.
func (p *Processor) Process(ctx context.Context, evt queue.TransactionEvent) (Result, error) {
	start := time.Now()
	kind := "unknown"
	if typ, err := ledger.ParseType(evt.Type); err == nil {
		kind = strings.ToLower(string(typ))
	}

	res, err := p.process(ctx, evt)
	p.metrics.observeEvent(kind, res.Outcome, time.Since(start))
	p.logResult(evt, res, err)
	return res, err
}

func (p *Processor) process(ctx context.Context, evt queue.TransactionEvent) (Result, error) {
	res := Result{TransactionID: evt.ID, AccountID: evt.AccountID}

	if evt.AmountCents <= 0 {
		res, err := p.reject(ctx, res, ErrNonPositiveAmount)
		if err != nil {
			return res, err
		}
		return p.refresh(ctx, res)
	}

	typ, err := ledger.ParseType(evt.Type)
	if err != nil {
		res, rerr := p.reject(ctx, res, err)
		if rerr != nil {
			return res, rerr
		}
		if res.Outcome == OutcomeAlreadyProcessed {
			return res, nil
		}
		return res, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	switch typ {
	case ledger.TypeDeposit:
		res, err = p.deposit(ctx, evt, res)
	case ledger.TypePurchase:
		res, err = p.purchase(ctx, evt, res)
	case ledger.TypeRefund:
		res, err = p.refund(ctx, evt, res)
	}
	if err != nil {
		return res, err
	}
	return p.refresh(ctx, res)
}

// load runs the checks shared by every validator: the owning account exists,
// the row exists and is still pending, and the row matches the event. A nil
// row with a nil error means res is already final.
func (p *Processor) load(ctx context.Context, evt queue.TransactionEvent, typ ledger.Type, res Result) (*ledger.Transaction, Result, error) {
	if _, err := p.store.FindAccount(ctx, evt.AccountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			res, err = p.reject(ctx, res, ledger.ErrAccountNotFound)
			return nil, res, err
		}
		return nil, failed(res), fmt.Errorf("load account %s: %w", evt.AccountID, err)
	}

	tx, err := p.store.FindTransaction(ctx, evt.ID)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, failed(res), fmt.Errorf("%w: transaction %s is not in the ledger", ErrDataIntegrity, evt.ID)
		}
		return nil, failed(res), fmt.Errorf("load transaction %s: %w", evt.ID, err)
	}

	if tx.Status != ledger.StatusPending {
		res.Outcome = OutcomeAlreadyProcessed
		return nil, res, nil
	}

	if tx.AccountID != evt.AccountID || tx.Type != typ || tx.Amount != evt.AmountCents {
		mismatch := fmt.Errorf("%w: event for %s disagrees with ledger row (account %s/%s, type %s/%s, amount %d/%d)",
			ErrDataIntegrity, evt.ID, evt.AccountID, tx.AccountID, typ, tx.Type, evt.AmountCents, tx.Amount)
		if err := p.store.UpdateStatus(ctx, tx.ID, ledger.StatusError); err != nil && !errors.Is(err, ledger.ErrAlreadyProcessed) {
			return nil, failed(res), fmt.Errorf("mark transaction %s as error: %w", tx.ID, err)
		}
		return nil, failed(res), mismatch
	}

	return &tx, res, nil
}

// reject moves the transaction to REJECTED. A row that already left PENDING
// is reported as already processed; a missing row leaves nothing to write.
func (p *Processor) reject(ctx context.Context, res Result, reason error) (Result, error) {
	err := p.store.UpdateStatus(ctx, res.TransactionID, ledger.StatusRejected)
	switch {
	case err == nil, errors.Is(err, ledger.ErrTransactionNotFound):
		res.Outcome = OutcomeRejected
		res.Reason = reason
		return res, nil
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	default:
		return failed(res), fmt.Errorf("reject transaction %s: %w", res.TransactionID, err)
	}
}

// approved maps the error of an approving store write onto an outcome.
func (p *Processor) approved(ctx context.Context, res Result, err error) (Result, error) {
	switch {
	case err == nil:
		res.Outcome = OutcomeApproved
		return res, nil
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		res.Outcome = OutcomeAlreadyProcessed
		return res, nil
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrAlreadyRefunded):
		return p.reject(ctx, res, err)
	default:
		return failed(res), fmt.Errorf("approve transaction %s: %w", res.TransactionID, err)
	}
}

func (p *Processor) refresh(ctx context.Context, res Result) (Result, error) {
	if err := p.refreshBalance(ctx, res.AccountID); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Processor) refreshBalance(ctx context.Context, accountID uuid.UUID) error {
	published, err := p.balances.Refresh(ctx, accountID)
	switch {
	case err != nil:
		p.metrics.observeRefresh("failed")
		return fmt.Errorf("refresh balance for %s: %w", accountID, err)
	case published:
		p.metrics.observeRefresh("published")
	default:
		p.metrics.observeRefresh("skipped")
	}
	return nil
}

func (p *Processor) logResult(evt queue.TransactionEvent, res Result, err error) {
	attrs := []any{
		slog.String("transaction_id", evt.ID.String()),
		slog.String("account_id", evt.AccountID.String()),
		slog.String("type", evt.Type),
		slog.String("outcome", string(res.Outcome)),
	}
	if res.Reason != nil {
		attrs = append(attrs, slog.String("reason", res.Reason.Error()))
	}
	switch {
	case err != nil:
		p.logger.Error("transaction processing failed", append(attrs, slog.Any("error", err), slog.Bool("retryable", Retryable(err)))...)
	case res.Reason != nil && reportedReason(res.Reason):
		p.logger.Warn("transaction rejected", attrs...)
	default:
		p.logger.Info("transaction processed", attrs...)
	}
}

// reportedReason marks rejections operators usually want to see.
func reportedReason(reason error) bool {
	return errors.Is(reason, ErrRefundTargetNotFound) || errors.Is(reason, ledger.ErrAlreadyRefunded)
}

func failed(res Result) Result {
	res.Outcome = OutcomeFailed
	res.Reason = nil
	return res
}
