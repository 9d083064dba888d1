// Package ext defines the extension system for the orchestrator.
//
// Extensions are notified of job lifecycle events and can react to them,
// for example by recording metrics or writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s stored %d records in %s", j.ID, j.RecordCount, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobSubmitted]: a new job was persisted
//   - [JobStarted]: a worker began an attempt
//   - [JobSucceeded]: output was persisted and the job succeeded
//   - [JobRetrying]: an attempt failed and the job will be retried
//   - [JobFailed]: the job failed terminally
//   - [JobCancelled]: the job was cancelled
//   - [LeaseReclaimed]: an expired lease was recovered by the scheduler
//
// # Other Hooks
//
//   - [CronFired]: a recurring entry fired and submitted a job
//   - [Shutdown]: the orchestrator is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
