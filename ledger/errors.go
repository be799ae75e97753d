package ledger

import "errors"

var (
	// Account errors.
	ErrAccountNotFound  = errors.New("ledger: account not found")
	ErrAccountExists    = errors.New("ledger: account already exists")
	ErrAccountNotListed = errors.New("ledger: account not listed by instruction")
	ErrReadOnly         = errors.New("ledger: account is not writable")
	ErrNotOwner         = errors.New("ledger: account not owned by program")

	// Authorization errors.
	ErrMissingSignature    = errors.New("ledger: missing required signature")
	ErrPrivilegeEscalation = errors.New("ledger: cross-call escalates account privileges")

	// Balance errors.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrBalanceOverflow   = errors.New("ledger: balance overflow")

	// Execution errors.
	ErrProgramNotFound  = errors.New("ledger: program not found")
	ErrCallDepth        = errors.New("ledger: cross-call depth exceeded")
	ErrInvalidData      = errors.New("ledger: invalid instruction data")
	ErrEmptyBatch       = errors.New("ledger: batch has no instructions")
	ErrBatchTooLarge    = errors.New("ledger: batch exceeds size limit")
	ErrBatchFailed      = errors.New("ledger: batch execution failed")
	ErrInvalidAddress   = errors.New("ledger: invalid address")
	ErrInvalidSignature = errors.New("ledger: invalid signature")
)
