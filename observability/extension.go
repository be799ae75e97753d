package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/builder"
	"github.com/xraph/crank/ext"
	"github.com/xraph/crank/trigger"
	"github.com/xraph/crank/worker"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.RoundCompleted = (*MetricsExtension)(nil)
	_ ext.BatchSubmitted = (*MetricsExtension)(nil)
	_ ext.BatchFailed    = (*MetricsExtension)(nil)
	_ ext.QueueSkipped   = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/crank/observability"

// MetricsExtension records worker-wide lifecycle metrics. Register it as
// an extension to track round throughput, batch outcomes, and why queues
// were skipped.
type MetricsExtension struct {
	Rounds         metric.Int64Counter
	RoundQueues    metric.Int64Histogram
	RoundDuration  metric.Float64Histogram
	BatchSubmitted metric.Int64Counter
	BatchFailed    metric.Int64Counter
	QueueSkipped   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. On instrument errors the OTel API returns noop
// instruments, so construction never fails.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	rounds, _ := meter.Int64Counter("crank.round.completed", //nolint:errcheck // noop fallback
		metric.WithDescription("Rounds that handled at least one queue"),
		metric.WithUnit("{round}"))
	queues, _ := meter.Int64Histogram("crank.round.queues", //nolint:errcheck // noop fallback
		metric.WithDescription("Queues handled per round"),
		metric.WithUnit("{queue}"))
	duration, _ := meter.Float64Histogram("crank.round.duration", //nolint:errcheck // noop fallback
		metric.WithDescription("Round wall time in seconds"),
		metric.WithUnit("s"))
	submitted, _ := meter.Int64Counter("crank.batch.submitted", //nolint:errcheck // noop fallback
		metric.WithDescription("Crank batches accepted by the ledger"),
		metric.WithUnit("{batch}"))
	failed, _ := meter.Int64Counter("crank.batch.failed", //nolint:errcheck // noop fallback
		metric.WithDescription("Crank batches the ledger rejected"),
		metric.WithUnit("{batch}"))
	skipped, _ := meter.Int64Counter("crank.queue.skipped", //nolint:errcheck // noop fallback
		metric.WithDescription("Queues handled without a submission, by reason"),
		metric.WithUnit("{queue}"))

	return &MetricsExtension{
		Rounds:         rounds,
		RoundQueues:    queues,
		RoundDuration:  duration,
		BatchSubmitted: submitted,
		BatchFailed:    failed,
		QueueSkipped:   skipped,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRoundCompleted implements ext.RoundCompleted.
func (m *MetricsExtension) OnRoundCompleted(ctx context.Context, r ext.Round) error {
	m.Rounds.Add(ctx, 1)
	m.RoundQueues.Record(ctx, int64(r.Queues))
	m.RoundDuration.Record(ctx, r.Elapsed.Seconds())
	return nil
}

// OnBatchSubmitted implements ext.BatchSubmitted.
func (m *MetricsExtension) OnBatchSubmitted(ctx context.Context, _ *attempt.Attempt) error {
	m.BatchSubmitted.Add(ctx, 1)
	return nil
}

// OnBatchFailed implements ext.BatchFailed.
func (m *MetricsExtension) OnBatchFailed(ctx context.Context, _ *attempt.Attempt, _ error) error {
	m.BatchFailed.Add(ctx, 1)
	return nil
}

// OnQueueSkipped implements ext.QueueSkipped.
func (m *MetricsExtension) OnQueueSkipped(ctx context.Context, _ *attempt.Attempt, reason error) error {
	m.QueueSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", skipReason(reason))))
	return nil
}

// skipReason buckets a skip error into a low-cardinality label.
func skipReason(err error) string {
	switch {
	case err == nil:
		return "nothing_to_do"
	case errors.Is(err, trigger.ErrMissingAccount):
		return "missing_account"
	case errors.Is(err, builder.ErrEntryFailed):
		return "entry_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, worker.ErrThrottled):
		return "throttled"
	default:
		return "error"
	}
}
