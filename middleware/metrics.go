package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/crank/attempt"
)

const meterName = "github.com/xraph/crank"

// Metrics records attempt metrics through the global MeterProvider.
//
//   - crank.attempt.duration: seconds per attempt, by status
//   - crank.attempt.executions: attempts, by status
//   - crank.batch.steps: queue steps per submitted batch
//   - crank.batch.size: encoded bytes per submitted batch
//
// An attempt that returned an error before any status was set is counted
// as failed.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The metric API hands back no-op instruments on error.
	duration, _ := meter.Float64Histogram("crank.attempt.duration",
		metric.WithDescription("Time spent building and submitting one queue's batch"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter("crank.attempt.executions",
		metric.WithDescription("Crank attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	steps, _ := meter.Int64Histogram("crank.batch.steps",
		metric.WithDescription("Queue steps packed into each submitted batch"),
		metric.WithUnit("{step}"),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64),
	)
	size, _ := meter.Int64Histogram("crank.batch.size",
		metric.WithDescription("Encoded size of each submitted batch"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 512, 768, 1024, 1232),
	)

	return func(ctx context.Context, a *attempt.Attempt, next Handler) error {
		start := time.Now()
		err := next(ctx)

		status := a.Status
		if err != nil && (status == "" || status == attempt.StatusSubmitted) {
			status = attempt.StatusFailed
		}
		byStatus := metric.WithAttributes(attribute.String("status", string(status)))
		duration.Record(ctx, time.Since(start).Seconds(), byStatus)
		executions.Add(ctx, 1, byStatus)

		if status == attempt.StatusSubmitted {
			steps.Record(ctx, int64(a.Steps))
			size.Record(ctx, int64(a.Size))
		}
		return err
	}
}
