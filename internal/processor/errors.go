package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrDataIntegrity means the event and the ledger disagree, e.g. the
	// event references a transaction row that does not exist.
	ErrDataIntegrity = errors.New("data integrity fault")

	// ErrMalformedInput means the event itself cannot be interpreted.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidRefundTarget means a refund declared no usable target identifier.
	ErrInvalidRefundTarget = fmt.Errorf("%w: missing or invalid refund target", ErrMalformedInput)

	// Rejection reasons. These never surface as errors from Process.
	ErrNonPositiveAmount       = errors.New("amount must be positive")
	ErrRefundTargetNotFound    = errors.New("refund target not found")
	ErrRefundTargetNotApproved = errors.New("refund target is not approved")
	ErrRefundAccountMismatch   = errors.New("refund target belongs to another account")
	ErrRefundOfRefund          = errors.New("refunds cannot be refunded")
)

// Retryable reports whether err is a dependency fault that may succeed on
// redelivery. Integrity and malformed-input faults never will.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDataIntegrity) && !errors.Is(err, ErrMalformedInput)
}
