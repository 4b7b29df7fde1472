package ledger

// SeedAccount is a test helper that inserts an account when using the in-memory store.
func SeedAccount(s Store, acc Account) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.accounts[acc.ID] = acc
	}
}

// SeedTransaction is a test helper that inserts a transaction row as an
// upstream writer would, including refund links of approved refunds.
func SeedTransaction(s Store, tx Transaction) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if tx.Status == "" {
			tx.Status = StatusPending
		}
		mem.transactions[tx.ID] = cloneTransaction(tx)
		if tx.Type == TypeRefund && tx.Status == StatusApproved && tx.RefundOf != nil {
			mem.refunds[*tx.RefundOf] = tx.ID
		}
	}
}
