package ledger

import "github.com/google/uuid"

// Effect returns the signed contribution of an approved transaction to its
// account balance. targetType is the type of the transaction a refund
// reverses; it is ignored for other types and may be empty when the target
// cannot be resolved, in which case a refund contributes nothing.
func Effect(tx Transaction, targetType Type) int64 {
	switch tx.Type {
	case TypeDeposit:
		return tx.Amount
	case TypePurchase:
		return -tx.Amount
	case TypeRefund:
		switch targetType {
		case TypeDeposit:
			return -tx.Amount
		case TypePurchase:
			return tx.Amount
		}
	}
	return 0
}

// Sum computes a balance from a transaction history. Only approved rows of the
// given account count; refund targets are resolved against the full history.
// The result does not depend on the order of history.
func Sum(accountID uuid.UUID, history []Transaction) int64 {
	types := make(map[uuid.UUID]Type, len(history))
	for _, tx := range history {
		types[tx.ID] = tx.Type
	}

	var balance int64
	for _, tx := range history {
		if tx.AccountID != accountID || tx.Status != StatusApproved {
			continue
		}
		var targetType Type
		if tx.Type == TypeRefund && tx.RefundOf != nil {
			targetType = types[*tx.RefundOf]
		}
		balance += Effect(tx, targetType)
	}
	return balance
}
