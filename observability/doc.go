// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for job submission, success, retry, failure, cancellation,
// lease reclamation and cron events, broken down by supplier.
//
// For per-call tracing and metrics around supplier adapters, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
