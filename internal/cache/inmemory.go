package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	balance   int64
	expiresAt time.Time
}

// Memory is a BalanceCache kept in process. It records every write so tests
// can assert on what was published.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	values map[uuid.UUID]entry
	writes int
}

// NewInMemory creates an empty in-process cache.
func NewInMemory() *Memory {
	return &Memory{now: time.Now, values: make(map[uuid.UUID]entry)}
}

func (m *Memory) SetBalance(_ context.Context, accountID uuid.UUID, balance int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[accountID] = entry{balance: balance, expiresAt: m.now().Add(ttl)}
	m.writes++
	return nil
}

func (m *Memory) Balance(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.values[accountID]
	if !ok || !m.now().Before(e.expiresAt) {
		return 0, ErrMiss
	}
	return e.balance, nil
}

// Writes reports how many SetBalance calls succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
