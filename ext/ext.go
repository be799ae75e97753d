package ext

import (
	"context"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Round summarizes one dispatch round.
type Round struct {
	ID        id.RoundID
	Queues    int
	Submitted int
	Failed    int
	Skipped   int
	Steps     int
	Elapsed   time.Duration
}

// ──────────────────────────────────────────────────
// Round lifecycle hooks
// ──────────────────────────────────────────────────

// RoundStarted is called when a round has drained the crankable set.
type RoundStarted interface {
	OnRoundStarted(ctx context.Context, roundID id.RoundID, queues int) error
}

// RoundCompleted is called after every queue of a round was handled.
type RoundCompleted interface {
	OnRoundCompleted(ctx context.Context, r Round) error
}

// ──────────────────────────────────────────────────
// Attempt hooks
// ──────────────────────────────────────────────────

// BatchSubmitted is called after the ledger accepted a crank batch.
type BatchSubmitted interface {
	OnBatchSubmitted(ctx context.Context, a *attempt.Attempt) error
}

// BatchFailed is called when a built batch could not be submitted.
type BatchFailed interface {
	OnBatchFailed(ctx context.Context, a *attempt.Attempt, err error) error
}

// QueueSkipped is called when no batch was submitted for a queue. reason
// is nil when there was simply nothing to do.
type QueueSkipped interface {
	OnQueueSkipped(ctx context.Context, a *attempt.Attempt, reason error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
