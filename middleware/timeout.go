package middleware

import (
	"context"
	"time"

	"github.com/xraph/crank/attempt"
)

// Timeout returns middleware that bounds one attempt. Simulation and
// submission calls observe the cancelled context and return
// context.DeadlineExceeded. A zero d disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *attempt.Attempt, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
