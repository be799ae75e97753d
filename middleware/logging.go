package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/crank/attempt"
)

// Logging returns middleware that logs the outcome of each attempt.
// Attempts with nothing to do are logged at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *attempt.Attempt, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		attrs := []any{
			slog.String("queue", a.Queue.String()),
			slog.String("attempt_id", a.ID.String()),
			slog.String("round_id", a.Round.String()),
			slog.Duration("elapsed", elapsed),
		}
		switch {
		case err != nil:
			logger.Warn("crank attempt failed", append(attrs, slog.String("error", err.Error()))...)
		case a.Status == attempt.StatusSubmitted:
			logger.Info("crank batch submitted", append(attrs,
				slog.Int("steps", a.Steps),
				slog.Int("size", a.Size),
				slog.String("signature", a.Signature.String()),
			)...)
		default:
			logger.Debug("crank attempt finished", append(attrs, slog.String("status", string(a.Status)))...)
		}
		return err
	}
}
