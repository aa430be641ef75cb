package models

import "errors"

// Domain errors surfaced by the posting engine, the chart of accounts
// registry and the shift state machine. All are recoverable by the
// caller and are matched with errors.Is; wrapping adds detail without
// widening the set.
var (
	// ErrUnbalancedTransaction rejects a draft whose debits and credits
	// do not match exactly, or that is not a valid double entry at all
	// (fewer than two entries, non-positive amounts).
	ErrUnbalancedTransaction = errors.New("unbalanced transaction")

	// ErrUnknownAccount rejects a draft referencing an account that does
	// not exist or has been retired.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrDuplicateCode rejects a new account whose code is already on
	// the chart.
	ErrDuplicateCode = errors.New("duplicate account code")

	// ErrAlreadyPosted signals that an idempotency key has already been
	// committed. Retry-safe callers treat this as "already done".
	ErrAlreadyPosted = errors.New("transaction already posted")

	// ErrAlreadyReconciled signals that a shift has already been
	// reconciled; the retrying caller receives the prior result.
	ErrAlreadyReconciled = errors.New("shift already reconciled")

	// ErrInvalidTransition rejects a shift operation that does not fit
	// the current shift status.
	ErrInvalidTransition = errors.New("invalid shift transition")

	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("not found")
)
