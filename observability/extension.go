package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobSubmitted   = (*MetricsExtension)(nil)
	_ ext.JobSucceeded   = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.LeaseReclaimed = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

const meterName = "github.com/Joy-Aviation/Joy-Aviation-Supplies/observability"

// MetricsExtension records system-wide lifecycle metrics through an OTel
// meter. Register it as an extension to track submission rates, outcomes
// per supplier, retries by error class, dropped records, lease
// reclamations and cron fires.
type MetricsExtension struct {
	JobSubmitted   metric.Int64Counter
	JobSucceeded   metric.Int64Counter
	JobRetried     metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobCancelled   metric.Int64Counter
	LeaseReclaimed metric.Int64Counter
	RecordsStored  metric.Int64Counter
	RecordsDropped metric.Int64Counter
	CronFired      metric.Int64Counter
	JobDuration    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors fall back to the noop
// instruments the API returns alongside them.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("jascrapers.job.duration",
		metric.WithDescription("Time from the last attempt start to success in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobSubmitted:   counter("jascrapers.job.submitted", "Jobs created"),
		JobSucceeded:   counter("jascrapers.job.succeeded", "Jobs that reached succeeded"),
		JobRetried:     counter("jascrapers.job.retried", "Failed attempts scheduled for retry"),
		JobFailed:      counter("jascrapers.job.failed", "Jobs that failed terminally"),
		JobCancelled:   counter("jascrapers.job.cancelled", "Jobs cancelled"),
		LeaseReclaimed: counter("jascrapers.lease.reclaimed", "Expired leases recovered by the scheduler"),
		RecordsStored:  counter("jascrapers.records.stored", "Canonical records written to the sink"),
		RecordsDropped: counter("jascrapers.records.dropped", "Raw records dropped during normalization"),
		CronFired:      counter("jascrapers.cron.fired", "Recurring entries fired"),
		JobDuration:    duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func supplierAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("supplier", j.Supplier))
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.JobSubmitted.Add(ctx, 1, supplierAttr(j))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := supplierAttr(j)
	m.JobSucceeded.Add(ctx, 1, attrs)
	m.RecordsStored.Add(ctx, int64(j.RecordCount), attrs)
	m.RecordsDropped.Add(ctx, int64(j.DroppedCount), attrs)
	m.JobDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, f *job.Failure, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, failureAttrs(j, f))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, f *job.Failure) error {
	m.JobFailed.Add(ctx, 1, failureAttrs(j, f))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.JobCancelled.Add(ctx, 1, supplierAttr(j))
	return nil
}

// OnLeaseReclaimed implements ext.LeaseReclaimed.
func (m *MetricsExtension) OnLeaseReclaimed(ctx context.Context, j *job.Job) error {
	m.LeaseReclaimed.Add(ctx, 1, supplierAttr(j))
	return nil
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}

func failureAttrs(j *job.Job, f *job.Failure) metric.MeasurementOption {
	class := ""
	if f != nil {
		class = string(f.Class)
	}
	return metric.WithAttributes(
		attribute.String("supplier", j.Supplier),
		attribute.String("class", class),
	)
}
