package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/crank/attempt"
)

const tracerName = "github.com/xraph/crank"

// Tracing wraps each attempt in a "crank.attempt" span from the global
// TracerProvider. Without one configured the span is a no-op.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer is Tracing with an explicit tracer.
//
// The span carries the attempt, round, queue and worker up front and the
// outcome once the handler returns. Only a failed submission marks the
// span as an error. A queue the builder skipped gets a "crank.skipped"
// event with the reason and leaves the status unset, since skipping is
// routine while a chain waits on its trigger.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, a *attempt.Attempt, next Handler) error {
		ctx, span := tracer.Start(ctx, "crank.attempt",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("crank.attempt.id", a.ID.String()),
				attribute.String("crank.round.id", a.Round.String()),
				attribute.String("crank.queue", a.Queue.String()),
				attribute.String("crank.worker", a.Worker.String()),
			),
		)
		defer span.End()

		err := next(ctx)

		span.SetAttributes(
			attribute.String("crank.status", string(a.Status)),
			attribute.Int("crank.steps", a.Steps),
			attribute.Int("crank.size", a.Size),
			attribute.Bool("crank.remaining", a.Remaining),
		)
		if !a.Signature.IsZero() {
			span.SetAttributes(attribute.String("crank.signature", a.Signature.String()))
		}

		switch {
		case a.Status == attempt.StatusSkipped && err != nil:
			span.AddEvent("crank.skipped", trace.WithAttributes(attribute.String("reason", err.Error())))
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
