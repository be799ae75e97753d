package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/crank/attempt"
)

// ErrPanic wraps every panic Recover converts.
var ErrPanic = errors.New("crank: attempt panicked")

// Recover turns a panic below it into an error wrapping ErrPanic and
// marks the attempt failed, so the queue is retried next round.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *attempt.Attempt, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("crank attempt panicked",
				slog.String("queue", a.Queue.String()),
				slog.String("attempt_id", a.ID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			a.Status = attempt.StatusFailed
			err = fmt.Errorf("%w: queue %s: %v", ErrPanic, a.Queue.Short(), r)
		}()
		return next(ctx)
	}
}
