package ext

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/id"
)

// hooked pairs one hook with the name of the extension providing it.
type hooked[H any] struct {
	name string
	hook H
}

// Registry fans lifecycle events out to extensions. Each hook list is
// filled at Register time, so an emit touches only the extensions that
// implement that hook. Register is not safe to call once emitting began.
type Registry struct {
	logger     *slog.Logger
	extensions []Extension

	roundStarted   []hooked[RoundStarted]
	roundCompleted []hooked[RoundCompleted]
	batchSubmitted []hooked[BatchSubmitted]
	batchFailed    []hooked[BatchFailed]
	queueSkipped   []hooked[QueueSkipped]
	shutdown       []hooked[Shutdown]
}

// NewRegistry returns an empty registry logging hook failures to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds e. Hooks run in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	n := e.Name()
	collect(&r.roundStarted, n, e)
	collect(&r.roundCompleted, n, e)
	collect(&r.batchSubmitted, n, e)
	collect(&r.batchFailed, n, e)
	collect(&r.queueSkipped, n, e)
	collect(&r.shutdown, n, e)
}

func collect[H any](list *[]hooked[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*list = append(*list, hooked[H]{name: name, hook: h})
	}
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension { return r.extensions }

func (r *Registry) EmitRoundStarted(ctx context.Context, roundID id.RoundID, queues int) {
	emit(r, "OnRoundStarted", r.roundStarted, func(h RoundStarted) error {
		return h.OnRoundStarted(ctx, roundID, queues)
	})
}

func (r *Registry) EmitRoundCompleted(ctx context.Context, round Round) {
	emit(r, "OnRoundCompleted", r.roundCompleted, func(h RoundCompleted) error {
		return h.OnRoundCompleted(ctx, round)
	})
}

func (r *Registry) EmitBatchSubmitted(ctx context.Context, a *attempt.Attempt) {
	emit(r, "OnBatchSubmitted", r.batchSubmitted, func(h BatchSubmitted) error {
		return h.OnBatchSubmitted(ctx, a)
	})
}

func (r *Registry) EmitBatchFailed(ctx context.Context, a *attempt.Attempt, submitErr error) {
	emit(r, "OnBatchFailed", r.batchFailed, func(h BatchFailed) error {
		return h.OnBatchFailed(ctx, a, submitErr)
	})
}

func (r *Registry) EmitQueueSkipped(ctx context.Context, a *attempt.Attempt, reason error) {
	emit(r, "OnQueueSkipped", r.queueSkipped, func(h QueueSkipped) error {
		return h.OnQueueSkipped(ctx, a, reason)
	})
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// emit calls every hook in list. A hook that errors or panics is logged
// and skipped; it never stalls the round that fired it.
func emit[H any](r *Registry, hook string, list []hooked[H], call func(H) error) {
	for _, e := range list {
		if err := safeCall(call, e.hook); err != nil {
			r.logger.Warn("extension hook error",
				slog.String("hook", hook),
				slog.String("extension", e.name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeCall[H any](call func(H) error, h H) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return call(h)
}
