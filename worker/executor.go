// Package worker is the dispatch loop of a crank worker: a Pool that runs
// rounds over the crankable set, and an Executor that turns one queue
// address into a built, submitted batch through middleware.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/builder"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/middleware"
)

// ErrThrottled is reported for attempts deferred by the Limiter.
var ErrThrottled = errors.New("worker: queue throttled")

// Executor runs a single attempt through middleware and the builder,
// submits the result, then records the outcome and emits lifecycle
// events.
type Executor struct {
	builder    *builder.Builder
	submitter  ledger.Submitter
	extensions *ext.Registry
	store      attempt.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. store may
// be nil, in which case attempts are not recorded.
func NewExecutor(
	b *builder.Builder,
	submitter ledger.Submitter,
	extensions *ext.Registry,
	store attempt.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		builder:    b,
		submitter:  submitter,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Worker returns the address attempts are made as.
func (e *Executor) Worker() ledger.Address { return e.builder.Signer() }

// Execute builds and submits a batch for a.Queue. The attempt's outcome
// fields are filled in. It reports whether the queue should be marked
// again for the next round: the submission failed, the chain is still
// running after the submitted batch, or the builder gave up on a queue
// that nothing else would mark again (see builder.Retryable).
func (e *Executor) Execute(ctx context.Context, a *attempt.Attempt) (bool, error) {
	start := time.Now()

	terminal := func(ctx context.Context) error {
		res, err := e.builder.Build(ctx, a.Queue)
		if err != nil {
			a.Status = attempt.StatusSkipped
			return err
		}
		if res == nil {
			a.Status = attempt.StatusEmpty
			return nil
		}
		a.Steps, a.Size, a.Remaining = res.Steps, res.Size, res.Remaining

		sig, err := e.submitter.Submit(ctx, res.Batch)
		if err != nil {
			a.Status = attempt.StatusFailed
			return fmt.Errorf("submit %d steps: %w", res.Steps, err)
		}
		a.Signature = sig
		a.Status = attempt.StatusSubmitted
		return nil
	}

	err := e.mw(ctx, a, terminal)
	a.Duration = time.Since(start)
	if err != nil {
		a.Error = err.Error()
		if a.Status == "" || a.Status == attempt.StatusSubmitted {
			// A middleware failed around the handler.
			a.Status = attempt.StatusFailed
		}
	}

	e.finish(ctx, a, err)

	remark := a.Status == attempt.StatusFailed ||
		(a.Status == attempt.StatusSubmitted && a.Remaining) ||
		(a.Status == attempt.StatusSkipped && builder.Retryable(err))
	return remark, err
}

// Throttled records an attempt the limiter deferred.
func (e *Executor) Throttled(ctx context.Context, a *attempt.Attempt) {
	a.Status = attempt.StatusThrottled
	a.Error = ErrThrottled.Error()
	e.finish(ctx, a, ErrThrottled)
}

// finish emits the outcome and records the attempt.
func (e *Executor) finish(ctx context.Context, a *attempt.Attempt, err error) {
	switch a.Status {
	case attempt.StatusSubmitted:
		e.extensions.EmitBatchSubmitted(ctx, a)
	case attempt.StatusFailed:
		e.extensions.EmitBatchFailed(ctx, a, err)
	default:
		e.extensions.EmitQueueSkipped(ctx, a, err)
	}

	if e.store == nil {
		return
	}
	if recErr := e.store.RecordAttempt(context.WithoutCancel(ctx), a); recErr != nil {
		e.logger.Error("failed to record attempt",
			slog.String("attempt_id", a.ID.String()),
			slog.String("queue", a.Queue.Short()),
			slog.String("error", recErr.Error()),
		)
	}
}
