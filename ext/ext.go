// Package ext defines the extension system for the orchestrator.
// Extensions are notified of job lifecycle events (submitted, started,
// succeeded, retrying, failed, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a new job is persisted. Replayed
// idempotent submissions do not fire it.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins an attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job's output is persisted and the job
// reached succeeded.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when an attempt failed and the job waits for
// nextRunAt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, f *job.Failure, nextRunAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, f *job.Failure) error
}

// JobCancelled is called after a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// LeaseReclaimed is called when the scheduler recovers a running job
// whose lease expired. j is the job after reclamation.
type LeaseReclaimed interface {
	OnLeaseReclaimed(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a recurring entry fires and submits a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
