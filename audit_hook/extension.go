package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobSubmitted   = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobSucceeded   = (*Extension)(nil)
	_ ext.JobRetrying    = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.LeaseReclaimed = (*Extension)(nil)
	_ ext.CronFired      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder returns a Recorder that writes each event as one structured
// log line at a level matching its severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.Any("metadata", evt.Metadata),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges job lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"supplier", j.Supplier,
		"max_retries", j.MaxRetries,
		"idempotency_key", j.IdempotencyKey,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobSucceeded implements ext.JobSucceeded.
func (e *Extension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
		"records", j.RecordCount,
		"dropped", j.DroppedCount,
		"result_reference", j.ResultRef,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, f *job.Failure, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, failureErr(f),
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
		"class", failureClass(f),
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, f *job.Failure) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, failureErr(f),
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
		"max_retries", j.MaxRetries,
		"class", failureClass(f),
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
	)
}

// OnLeaseReclaimed implements ext.LeaseReclaimed.
func (e *Extension) OnLeaseReclaimed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionLeaseReclaimed, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"supplier", j.Supplier,
		"attempt", j.AttemptCount,
		"state", string(j.State),
	)
}

// ── Cron lifecycle hooks ────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, nil,
		"job_id", jobID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

type failureError struct{ f *job.Failure }

func (e failureError) Error() string { return e.f.Message }

func failureErr(f *job.Failure) error {
	if f == nil {
		return nil
	}
	return failureError{f}
}

func failureClass(f *job.Failure) string {
	if f == nil {
		return ""
	}
	return string(f.Class)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
