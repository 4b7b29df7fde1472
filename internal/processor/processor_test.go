package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/ledger-processor/internal/balance"
	"github.com/congo-pay/ledger-processor/internal/cache"
	"github.com/congo-pay/ledger-processor/internal/ledger"
	"github.com/congo-pay/ledger-processor/internal/logging"
	"github.com/congo-pay/ledger-processor/internal/queue"
)

type harness struct {
	store   ledger.Store
	cache   *cache.Memory
	metrics *Metrics
	proc    *Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, ledger.NewInMemory())
}

func newHarnessWithStore(t *testing.T, store ledger.Store) *harness {
	t.Helper()
	mem := cache.NewInMemory()
	engine := balance.NewEngine(store)
	handler := balance.NewHandler(store, engine, mem, cache.DefaultTTL, logging.Discard())
	metrics := NewMetrics(prometheus.NewRegistry())
	return &harness{
		store:   store,
		cache:   mem,
		metrics: metrics,
		proc:    New(store, engine, handler, metrics, logging.Discard()),
	}
}

func (h *harness) account() uuid.UUID {
	id := uuid.New()
	ledger.SeedAccount(h.store, ledger.Account{ID: id, Username: "acct-" + id.String()[:8]})
	return id
}

func (h *harness) seed(account uuid.UUID, typ ledger.Type, amount int64, status ledger.Status) ledger.Transaction {
	tx := ledger.Transaction{
		ID:             uuid.New(),
		AccountID:      account,
		Type:           typ,
		Amount:         amount,
		Status:         status,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}
	ledger.SeedTransaction(h.store, tx)
	return tx
}

func (h *harness) status(t *testing.T, id uuid.UUID) ledger.Status {
	t.Helper()
	tx, err := h.store.FindTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx.Status
}

func (h *harness) cached(t *testing.T, account uuid.UUID) int64 {
	t.Helper()
	v, err := h.cache.Balance(context.Background(), account)
	require.NoError(t, err)
	return v
}

func event(tx ledger.Transaction) queue.TransactionEvent {
	return queue.TransactionEvent{
		ID:             tx.ID,
		AccountID:      tx.AccountID,
		AmountCents:    tx.Amount,
		Status:         string(ledger.StatusPending),
		Type:           string(tx.Type),
		IdempotencyKey: tx.IdempotencyKey,
		CreatedAt:      tx.CreatedAt,
	}
}

func refundEvent(tx ledger.Transaction, target string) queue.TransactionEvent {
	evt := event(tx)
	evt.RefundTransactionID = queue.NullString{String: target, Valid: true}
	return evt
}

func TestProcess_PurchaseThenRefundScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.account()
	h.seed(acc, ledger.TypeDeposit, 10_000, ledger.StatusApproved)

	purchase := h.seed(acc, ledger.TypePurchase, 4_000, ledger.StatusPending)
	res, err := h.proc.Process(ctx, event(purchase))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, res.Outcome)
	assert.Equal(t, ledger.StatusApproved, h.status(t, purchase.ID))
	assert.Equal(t, int64(6_000), h.cached(t, acc))

	refund := h.seed(acc, ledger.TypeRefund, 4_000, ledger.StatusPending)
	res, err = h.proc.Process(ctx, refundEvent(refund, purchase.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, res.Outcome)

	stored, err := h.store.FindTransaction(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, stored.Status)
	require.NotNil(t, stored.RefundOf)
	assert.Equal(t, purchase.ID, *stored.RefundOf)
	assert.Equal(t, int64(10_000), h.cached(t, acc))
}

func TestProcess_DepositApproved(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	dep := h.seed(acc, ledger.TypeDeposit, 2_500, ledger.StatusPending)

	res, err := h.proc.Process(context.Background(), event(dep))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, res.Outcome)
	assert.Equal(t, int64(2_500), h.cached(t, acc))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.events.WithLabelValues("deposit", string(OutcomeApproved))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.refresh.WithLabelValues("published")))
}

func TestProcess_DepositForMissingAccountIsRejectedWithoutCacheWrite(t *testing.T) {
	h := newHarness(t)
	dep := h.seed(uuid.New(), ledger.TypeDeposit, 1_000, ledger.StatusPending)

	res, err := h.proc.Process(context.Background(), event(dep))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Reason, ledger.ErrAccountNotFound)
	assert.Equal(t, ledger.StatusRejected, h.status(t, dep.ID))
	assert.Zero(t, h.cache.Writes())
}

func TestProcess_ZeroAmountRejectedBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	purchase := h.seed(acc, ledger.TypePurchase, 0, ledger.StatusPending)

	evt := event(purchase)
	evt.Type = "NOT-A-TYPE"
	res, err := h.proc.Process(context.Background(), evt)
	require.NoError(t, err, "amount check runs before type parsing")
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Reason, ErrNonPositiveAmount)
	assert.Equal(t, ledger.StatusRejected, h.status(t, purchase.ID))
	assert.Equal(t, int64(0), h.cached(t, acc))
}

func TestProcess_UnknownTypeIsMalformed(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	tx := h.seed(acc, ledger.TypeDeposit, 100, ledger.StatusPending)

	evt := event(tx)
	evt.Type = "TRANSFER"
	res, err := h.proc.Process(context.Background(), evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.ErrorIs(t, err, ledger.ErrUnknownType)
	assert.False(t, Retryable(err))
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ledger.StatusRejected, h.status(t, tx.ID))
	assert.Zero(t, h.cache.Writes())
}

func TestProcess_LowercaseTypeAccepted(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	dep := h.seed(acc, ledger.TypeDeposit, 300, ledger.StatusPending)

	evt := event(dep)
	evt.Type = "deposit"
	res, err := h.proc.Process(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, res.Outcome)
}

func TestProcess_MissingRowIsIntegrityFault(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	evt := queue.TransactionEvent{ID: uuid.New(), AccountID: acc, AmountCents: 100, Type: "DEPOSIT"}

	res, err := h.proc.Process(context.Background(), evt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataIntegrity)
	assert.False(t, Retryable(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, h.cache.Writes())
}

func TestProcess_EventDisagreeingWithRowForcesError(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	dep := h.seed(acc, ledger.TypeDeposit, 100, ledger.StatusPending)

	evt := event(dep)
	evt.AmountCents = 100_000
	_, err := h.proc.Process(context.Background(), evt)
	require.ErrorIs(t, err, ErrDataIntegrity)
	assert.Equal(t, ledger.StatusError, h.status(t, dep.ID))
}

func TestProcess_ReprocessingIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.account()
	dep := h.seed(acc, ledger.TypeDeposit, 10_000, ledger.StatusPending)
	purchase := h.seed(acc, ledger.TypePurchase, 1_000, ledger.StatusApproved)
	refund := h.seed(acc, ledger.TypeRefund, 1_000, ledger.StatusPending)

	for i := 0; i < 3; i++ {
		res, err := h.proc.Process(ctx, event(dep))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApproved, res.Outcome)
		} else {
			assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
		}

		res, err = h.proc.Process(ctx, refundEvent(refund, purchase.ID.String()))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApproved, res.Outcome)
		} else {
			assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
		}
	}

	bal, err := h.store.SumApproved(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal)
	assert.Equal(t, int64(10_000), h.cached(t, acc))
}

func TestProcess_PurchaseInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	acc := h.account()
	h.seed(acc, ledger.TypeDeposit, 1_000, ledger.StatusApproved)
	purchase := h.seed(acc, ledger.TypePurchase, 1_001, ledger.StatusPending)

	res, err := h.proc.Process(context.Background(), event(purchase))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.ErrorIs(t, res.Reason, ledger.ErrInsufficientFunds)
	assert.Equal(t, ledger.StatusRejected, h.status(t, purchase.ID))
	assert.Equal(t, int64(1_000), h.cached(t, acc))
}

func TestProcess_ConcurrentPurchasesNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.account()
	h.seed(acc, ledger.TypeDeposit, 5_000, ledger.StatusApproved)

	var events []queue.TransactionEvent
	for i := 0; i < 10; i++ {
		events = append(events, event(h.seed(acc, ledger.TypePurchase, 1_000, ledger.StatusPending)))
	}

	var wg sync.WaitGroup
	for _, evt := range events {
		wg.Add(1)
		go func(evt queue.TransactionEvent) {
			defer wg.Done()
			_, err := h.proc.Process(ctx, evt)
			assert.NoError(t, err)
		}(evt)
	}
	wg.Wait()

	bal, err := h.store.SumApproved(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	for _, evt := range events {
		assert.NotEqual(t, ledger.StatusPending, h.status(t, evt.ID))
	}
}

func TestProcess_RefundRejections(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(h *harness, acc uuid.UUID) (refund ledger.Transaction, target string)
		reason error
	}{
		{
			name: "target not found",
			setup: func(h *harness, acc uuid.UUID) (ledger.Transaction, string) {
				return h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending), uuid.NewString()
			},
			reason: ErrRefundTargetNotFound,
		},
		{
			name: "target not approved",
			setup: func(h *harness, acc uuid.UUID) (ledger.Transaction, string) {
				target := h.seed(acc, ledger.TypePurchase, 100, ledger.StatusRejected)
				return h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending), target.ID.String()
			},
			reason: ErrRefundTargetNotApproved,
		},
		{
			name: "target on another account",
			setup: func(h *harness, acc uuid.UUID) (ledger.Transaction, string) {
				other := h.account()
				target := h.seed(other, ledger.TypeDeposit, 100, ledger.StatusApproved)
				return h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending), target.ID.String()
			},
			reason: ErrRefundAccountMismatch,
		},
		{
			name: "refund of refund",
			setup: func(h *harness, acc uuid.UUID) (ledger.Transaction, string) {
				purchase := h.seed(acc, ledger.TypePurchase, 100, ledger.StatusApproved)
				first := ledger.Transaction{
					ID: uuid.New(), AccountID: acc, Type: ledger.TypeRefund, Amount: 100,
					Status: ledger.StatusApproved, RefundOf: &purchase.ID, IdempotencyKey: uuid.NewString(),
				}
				ledger.SeedTransaction(h.store, first)
				return h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending), first.ID.String()
			},
			reason: ErrRefundOfRefund,
		},
		{
			name: "target already refunded",
			setup: func(h *harness, acc uuid.UUID) (ledger.Transaction, string) {
				purchase := h.seed(acc, ledger.TypePurchase, 100, ledger.StatusApproved)
				ledger.SeedTransaction(h.store, ledger.Transaction{
					ID: uuid.New(), AccountID: acc, Type: ledger.TypeRefund, Amount: 100,
					Status: ledger.StatusApproved, RefundOf: &purchase.ID, IdempotencyKey: uuid.NewString(),
				})
				return h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending), purchase.ID.String()
			},
			reason: ledger.ErrAlreadyRefunded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			acc := h.account()
			refund, target := tc.setup(h, acc)

			res, err := h.proc.Process(context.Background(), refundEvent(refund, target))
			require.NoError(t, err)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.ErrorIs(t, res.Reason, tc.reason)
			assert.Equal(t, ledger.StatusRejected, h.status(t, refund.ID))
			assert.Equal(t, 1, h.cache.Writes(), "balance refreshed after rejection")
		})
	}
}

func TestProcess_RefundWithInvalidTarget(t *testing.T) {
	for name, ref := range map[string]queue.NullString{
		"null":      {},
		"not valid": {String: uuid.NewString(), Valid: false},
		"garbage":   {String: "not-a-uuid", Valid: true},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			acc := h.account()
			refund := h.seed(acc, ledger.TypeRefund, 100, ledger.StatusPending)
			evt := event(refund)
			evt.RefundTransactionID = ref

			res, err := h.proc.Process(context.Background(), evt)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRefundTarget)
			assert.ErrorIs(t, err, ErrMalformedInput)
			assert.Equal(t, OutcomeRejected, res.Outcome)
			assert.Equal(t, ledger.StatusRejected, h.status(t, refund.ID))
			assert.Zero(t, h.cache.Writes())
		})
	}
}

func TestProcess_ConcurrentRefundsApproveAtMostOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acc := h.account()
	h.seed(acc, ledger.TypeDeposit, 10_000, ledger.StatusApproved)
	purchase := h.seed(acc, ledger.TypePurchase, 4_000, ledger.StatusApproved)

	refunds := []ledger.Transaction{
		h.seed(acc, ledger.TypeRefund, 4_000, ledger.StatusPending),
		h.seed(acc, ledger.TypeRefund, 4_000, ledger.StatusPending),
		h.seed(acc, ledger.TypeRefund, 4_000, ledger.StatusPending),
	}

	var wg sync.WaitGroup
	for _, r := range refunds {
		wg.Add(1)
		go func(r ledger.Transaction) {
			defer wg.Done()
			_, err := h.proc.Process(ctx, refundEvent(r, purchase.ID.String()))
			assert.NoError(t, err)
		}(r)
	}
	wg.Wait()

	approved := 0
	for _, r := range refunds {
		switch h.status(t, r.ID) {
		case ledger.StatusApproved:
			approved++
		case ledger.StatusRejected:
		default:
			t.Fatalf("refund %s left in unexpected status", r.ID)
		}
	}
	assert.Equal(t, 1, approved)

	bal, err := h.store.SumApproved(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal)
}

type flakyStore struct {
	ledger.Store
	err error
}

func (s flakyStore) UpdateStatus(context.Context, uuid.UUID, ledger.Status) error {
	return s.err
}

func TestProcess_DependencyFaultIsRetryable(t *testing.T) {
	boom := errors.New("connection reset")
	inner := ledger.NewInMemory()
	acc := uuid.New()
	ledger.SeedAccount(inner, ledger.Account{ID: acc, Username: "flaky"})
	dep := ledger.Transaction{ID: uuid.New(), AccountID: acc, Type: ledger.TypeDeposit, Amount: 100, IdempotencyKey: "k"}
	ledger.SeedTransaction(inner, dep)

	h := newHarnessWithStore(t, flakyStore{Store: inner, err: boom})
	res, err := h.proc.Process(context.Background(), event(dep))
	require.ErrorIs(t, err, boom)
	assert.True(t, Retryable(err))
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Zero(t, h.cache.Writes())

	got, ferr := inner.FindTransaction(context.Background(), dep.ID)
	require.NoError(t, ferr)
	assert.Equal(t, ledger.StatusPending, got.Status, "safe to reprocess")
	assert.Equal(t, queue.Requeue, disposition(err))
}
