package crank

import "errors"

var (
	// Lifecycle errors.
	ErrNoLedger        = errors.New("crank: no ledger client configured")
	ErrNoSigner        = errors.New("crank: no signer configured")
	ErrStoreClosed     = errors.New("crank: store closed")
	ErrMigrationFailed = errors.New("crank: migration failed")

	// Not found errors.
	ErrAttemptNotFound = errors.New("crank: attempt not found")

	// Conflict errors.
	ErrAttemptExists = errors.New("crank: attempt already exists")

	// Configuration errors.
	ErrInvalidConfig = errors.New("crank: invalid configuration")
)
