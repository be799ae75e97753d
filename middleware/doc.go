// Package middleware wraps the per-queue build-and-submit step.
//
// The engine assembles, outermost first: Recover, Tracing, Metrics,
// Logging, Timeout, then any middleware passed through
// engine.WithMiddleware. A middleware sees the attempt before next runs
// and its outcome (status, steps, size, signature) after.
//
//	func skipTreasury(q ledger.Address) middleware.Middleware {
//	    return func(ctx context.Context, a *attempt.Attempt, next middleware.Handler) error {
//	        if a.Queue == q {
//	            a.Status = attempt.StatusSkipped
//	            return nil
//	        }
//	        return next(ctx)
//	    }
//	}
package middleware
