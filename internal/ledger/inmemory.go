package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type inMemoryStore struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]Account
	transactions map[uuid.UUID]Transaction
	// approved refunds keyed by target, mirroring the partial unique index
	refunds map[uuid.UUID]uuid.UUID
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests.
func NewInMemory() Store {
	return &inMemoryStore{
		accounts:     make(map[uuid.UUID]Account),
		transactions: make(map[uuid.UUID]Transaction),
		refunds:      make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *inMemoryStore) FindTransaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *inMemoryStore) FindAccount(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (s *inMemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	if !CanTransition(tx.Status, status) {
		return ErrAlreadyProcessed
	}
	tx.Status = status
	s.transactions[id] = tx
	return nil
}

func (s *inMemoryStore) LinkRefund(_ context.Context, id, target uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	if _, taken := s.refunds[target]; taken {
		return ErrAlreadyRefunded
	}
	tx.RefundOf = &target
	tx.Status = StatusApproved
	s.transactions[id] = tx
	s.refunds[target] = id
	return nil
}

func (s *inMemoryStore) HasApprovedRefund(_ context.Context, target uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.refunds[target]
	return ok, nil
}

func (s *inMemoryStore) ApprovePurchase(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.pendingLocked(id)
	if err != nil {
		return err
	}
	if s.sumLocked(tx.AccountID) < tx.Amount {
		return ErrInsufficientFunds
	}
	tx.Status = StatusApproved
	s.transactions[id] = tx
	return nil
}

func (s *inMemoryStore) SumApproved(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumLocked(accountID), nil
}

func (s *inMemoryStore) pendingLocked(id uuid.UUID) (Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if tx.Status != StatusPending {
		return Transaction{}, ErrAlreadyProcessed
	}
	return tx, nil
}

func (s *inMemoryStore) sumLocked(accountID uuid.UUID) int64 {
	history := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		history = append(history, tx)
	}
	return Sum(accountID, history)
}

func cloneTransaction(tx Transaction) Transaction {
	if tx.RefundOf != nil {
		target := *tx.RefundOf
		tx.RefundOf = &target
	}
	return tx
}
