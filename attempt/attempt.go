// Package attempt records what a worker did with each queue in each
// round. Attempts are off-ledger history: the ledger is the source of
// truth for queue state, attempts explain how the worker got there.
package attempt

import (
	"time"

	"github.com/xraph/crank/id"
	"github.com/xraph/crank/ledger"
)

// Status is the outcome of an attempt.
type Status string

const (
	// StatusSubmitted means a batch was built and accepted by the ledger.
	StatusSubmitted Status = "submitted"
	// StatusFailed means a batch was built but submission failed.
	StatusFailed Status = "failed"
	// StatusSkipped means the builder could not produce a batch.
	StatusSkipped Status = "skipped"
	// StatusEmpty means there was nothing to do.
	StatusEmpty Status = "empty"
	// StatusThrottled means the worker's own rate limit deferred the queue.
	StatusThrottled Status = "throttled"
)

// Attempt is one worker's handling of one queue in one round.
type Attempt struct {
	ID        id.AttemptID     `json:"id"`
	Round     id.RoundID       `json:"round"`
	Queue     ledger.Address   `json:"queue"`
	Worker    ledger.Address   `json:"worker"`
	Status    Status           `json:"status"`
	Steps     int              `json:"steps"`
	Size      int              `json:"size"`
	Remaining bool             `json:"remaining"`
	Signature ledger.Signature `json:"signature,omitzero"`
	Error     string           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
	CreatedAt time.Time        `json:"created_at"`
}

// New returns a pending attempt for queue in round.
func New(round id.RoundID, queue, worker ledger.Address) *Attempt {
	return &Attempt{
		ID:        id.NewAttemptID(),
		Round:     round,
		Queue:     queue,
		Worker:    worker,
		CreatedAt: time.Now().UTC(),
	}
}
