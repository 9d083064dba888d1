package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// meterName is the instrumentation scope name for orchestrator metrics.
const meterName = "github.com/Joy-Aviation/Joy-Aviation-Supplies"

// Metrics returns middleware that records per-fetch metrics using the
// global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - jascrapers.fetch.duration (Float64Histogram): adapter call time in
//     seconds, with attributes: supplier, status ("ok" or "error")
//   - jascrapers.fetch.calls (Int64Counter): total adapter calls,
//     with attributes: supplier, status and, on error, class
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"jascrapers.fetch.duration",
		metric.WithDescription("Duration of supplier adapter calls in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"jascrapers.fetch.calls",
		metric.WithDescription("Total number of supplier adapter calls"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		kv := []attribute.KeyValue{
			attribute.String("supplier", j.Supplier),
			attribute.String("status", "ok"),
		}
		if err != nil {
			kv[1] = attribute.String("status", "error")
			kv = append(kv, attribute.String("class", string(jascrapers.Classify(err))))
		}
		attrs := metric.WithAttributes(kv...)

		duration.Record(ctx, elapsed, attrs)
		calls.Add(ctx, 1, attrs)

		return err
	}
}
