package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register every extension before the orchestrator starts; emits are
// not synchronized with Register.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobSubmitted   []entry[JobSubmitted]
	jobStarted     []entry[JobStarted]
	jobSucceeded   []entry[JobSucceeded]
	jobRetrying    []entry[JobRetrying]
	jobFailed      []entry[JobFailed]
	jobCancelled   []entry[JobCancelled]
	leaseReclaimed []entry[LeaseReclaimed]
	cronFired      []entry[CronFired]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, entry[JobSubmitted]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, entry[JobSucceeded]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, entry[JobCancelled]{name, h})
	}
	if h, ok := e.(LeaseReclaimed); ok {
		r.leaseReclaimed = append(r.leaseReclaimed, entry[LeaseReclaimed]{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, entry[CronFired]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all extensions that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, f *job.Failure, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, f, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, f *job.Failure) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, f); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitLeaseReclaimed notifies all extensions that implement LeaseReclaimed.
func (r *Registry) EmitLeaseReclaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.leaseReclaimed {
		if err := e.hook.OnLeaseReclaimed(ctx, j); err != nil {
			r.logHookError("OnLeaseReclaimed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, jobID id.JobID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, jobID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
