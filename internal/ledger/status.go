package ledger

// Status is the lifecycle state of a transaction.
//
//	PENDING → APPROVED | REJECTED | ERROR
//
// APPROVED, REJECTED and ERROR are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusError    Status = "ERROR"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	return from == StatusPending && to.Terminal()
}
