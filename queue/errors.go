package queue

import "errors"

var (
	ErrUnauthorized        = errors.New("queue: signer is not authorized")
	ErrQueueExists         = errors.New("queue: queue already exists")
	ErrQueueNotFound       = errors.New("queue: queue not found")
	ErrInvalidState        = errors.New("queue: invalid state transition")
	ErrInChain             = errors.New("queue: queue is in a chain")
	ErrNotInChain          = errors.New("queue: queue is not in a chain")
	ErrPaused              = errors.New("queue: queue is paused")
	ErrStopped             = errors.New("queue: queue is stopped")
	ErrMalformedSettings   = errors.New("queue: malformed settings")
	ErrFingerprintMismatch = errors.New("queue: fingerprint mismatch")
	ErrInsufficientBalance = errors.New("queue: insufficient balance")
	ErrRateLimited         = errors.New("queue: rate limit exceeded for slot")
	ErrInvalidResponse     = errors.New("queue: invalid crank response")
	ErrIDTooLong           = errors.New("queue: id too long")
	ErrInvalidAccounts     = errors.New("queue: missing instruction accounts")
)
