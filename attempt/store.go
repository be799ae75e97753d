package attempt

import (
	"context"
	"time"

	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// ListOpts controls pagination and filtering for attempt list queries.
// Results are ordered newest first.
type ListOpts struct {
	// Limit is the maximum number of attempts to return. Zero means no limit.
	Limit int
	// Offset is the number of attempts to skip.
	Offset int
	// Queue filters by queue address. The zero address means all queues.
	Queue ledger.Address
	// Status filters by outcome. Empty means all.
	Status Status
}

// Store defines the persistence contract for attempts.
type Store interface {
	// RecordAttempt persists a finished attempt.
	RecordAttempt(ctx context.Context, a *Attempt) error

	// GetAttempt retrieves an attempt by ID.
	GetAttempt(ctx context.Context, attemptID id.AttemptID) (*Attempt, error)

	// ListAttempts returns attempts matching opts.
	ListAttempts(ctx context.Context, opts ListOpts) ([]*Attempt, error)

	// ListRound returns every attempt of a round.
	ListRound(ctx context.Context, roundID id.RoundID) ([]*Attempt, error)

	// PurgeAttempts removes attempts created before the given time and
	// returns how many were removed.
	PurgeAttempts(ctx context.Context, before time.Time) (int64, error)
}
