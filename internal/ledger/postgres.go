package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// balanceQuery implements the balance formula in SQL: each refund is joined
// to the transaction it reverses to recover that row's type.
const balanceQuery = `
        SELECT COALESCE(SUM(
            CASE t.type
                WHEN 'DEPOSIT' THEN t.amount_cents
                WHEN 'PURCHASE' THEN -t.amount_cents
                WHEN 'REFUND' THEN
                    CASE o.type
                        WHEN 'DEPOSIT' THEN -t.amount_cents
                        WHEN 'PURCHASE' THEN t.amount_cents
                        ELSE 0
                    END
                ELSE 0
            END
        ), 0)::BIGINT
        FROM transactions t
        LEFT JOIN transactions o ON o.id = t.refund_transaction_id
        WHERE t.account_id = $1
          AND t.status = 'APPROVED'`

// querier is satisfied by both the pool and an open pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads and writes the ledger in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// FindTransaction fetches a transaction by identifier.
func (s *PostgresStore) FindTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return findTransaction(ctx, s.db, id, "")
}

// FindAccount fetches an account by identifier.
func (s *PostgresStore) FindAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT id, username, created_at, updated_at FROM accounts WHERE id = $1`, id)
	var acc Account
	if err := row.Scan(&acc.ID, &acc.Username, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	acc.CreatedAt = acc.CreatedAt.UTC()
	acc.UpdatedAt = acc.UpdatedAt.UTC()
	return acc, nil
}

// UpdateStatus moves a pending transaction to status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid target status %s", status)
	}
	cmd, err := s.db.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2 AND status = 'PENDING'`, string(status), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// LinkRefund stores the refund target and approves the refund in one statement.
// The partial unique index turns a concurrent second approval into ErrAlreadyRefunded.
func (s *PostgresStore) LinkRefund(ctx context.Context, id, target uuid.UUID) error {
	cmd, err := s.db.Exec(ctx, `UPDATE transactions
        SET refund_transaction_id = $2, status = 'APPROVED'
        WHERE id = $1 AND status = 'PENDING'`, id, target)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyRefunded
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// HasApprovedRefund reports whether an approved refund already references target.
func (s *PostgresStore) HasApprovedRefund(ctx context.Context, target uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(
        SELECT 1 FROM transactions
        WHERE refund_transaction_id = $1 AND type = 'REFUND' AND status = 'APPROVED')`, target).Scan(&exists)
	return exists, err
}

// ApprovePurchase approves a pending purchase while holding the account row
// lock, so concurrent purchases on one account see each other's effects.
func (s *PostgresStore) ApprovePurchase(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	purchase, err := findTransaction(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return err
	}
	if purchase.Status != StatusPending {
		return ErrAlreadyProcessed
	}

	var accountID uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, purchase.AccountID).Scan(&accountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}

	balance, err := sumApproved(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if balance < purchase.Amount {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE transactions SET status = 'APPROVED' WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SumApproved returns the derived balance of an account.
func (s *PostgresStore) SumApproved(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return sumApproved(ctx, s.db, accountID)
}

func (s *PostgresStore) explainMiss(ctx context.Context, id uuid.UUID) error {
	if _, err := s.FindTransaction(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyProcessed
}

func findTransaction(ctx context.Context, q querier, id uuid.UUID, lock string) (Transaction, error) {
	query := `SELECT id, account_id, amount_cents, type, status, refund_transaction_id,
        idempotency_key, created_at, retry_count
        FROM transactions WHERE id = $1 ` + lock
	var (
		tx        Transaction
		txType    string
		status    string
		refundOf  uuid.NullUUID
		createdAt time.Time
	)
	err := q.QueryRow(ctx, query, id).Scan(&tx.ID, &tx.AccountID, &tx.Amount, &txType, &status, &refundOf,
		&tx.IdempotencyKey, &createdAt, &tx.RetryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	tx.Type = Type(txType)
	tx.Status = Status(status)
	if refundOf.Valid {
		target := refundOf.UUID
		tx.RefundOf = &target
	}
	tx.CreatedAt = createdAt.UTC()
	return tx, nil
}

func sumApproved(ctx context.Context, q querier, accountID uuid.UUID) (int64, error) {
	var balance int64
	if err := q.QueryRow(ctx, balanceQuery, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}
