package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// tracerName is the instrumentation scope name for orchestrator tracing.
const tracerName = "github.com/Joy-Aviation/Joy-Aviation-Supplies"

// Tracing returns middleware that wraps each adapter call in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: jascrapers.job.id, jascrapers.supplier and
// jascrapers.attempt. On error, the span status is set to codes.Error and
// the error class is recorded as jascrapers.error.class.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "jascrapers.supplier.fetch",
			trace.WithAttributes(
				attribute.String("jascrapers.job.id", j.ID.String()),
				attribute.String("jascrapers.supplier", j.Supplier),
				attribute.Int("jascrapers.attempt", j.AttemptCount),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("jascrapers.error.class", string(jascrapers.Classify(err))))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
