package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted   = "job.submitted"
	ActionJobStarted     = "job.started"
	ActionJobSucceeded   = "job.succeeded"
	ActionJobRetrying    = "job.retrying"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionLeaseReclaimed = "job.lease_reclaimed"
	ActionCronFired      = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob  = "jascrapers.job"
	CategoryCron = "jascrapers.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob  = "job"
	ResourceCron = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobStarted,
		ActionJobSucceeded,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobCancelled,
		ActionLeaseReclaimed,
		ActionCronFired,
	}
}
