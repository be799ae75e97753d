package middleware

import (
	"context"

	"github.com/xraph/crank/attempt"
)

// Handler builds and submits the batch for one attempt.
type Handler func(ctx context.Context) error

// Middleware runs around one queue's Handler. The attempt's outcome fields
// are set once next returns.
type Middleware func(ctx context.Context, a *attempt.Attempt, next Handler) error

// Chain nests mws so that mws[0] is outermost.
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *attempt.Attempt, next Handler) error {
			return next(ctx)
		}
	case 1:
		return mws[0]
	}
	return func(ctx context.Context, a *attempt.Attempt, next Handler) error {
		var at func(i int) Handler
		at = func(i int) Handler {
			if i == len(mws) {
				return next
			}
			return func(ctx context.Context) error {
				return mws[i](ctx, a, at(i+1))
			}
		}
		return at(0)(ctx)
	}
}
