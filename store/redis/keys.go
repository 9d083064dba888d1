package redis

// Redis key naming conventions for job data.
// All keys are prefixed with "jascrapers:" to avoid collisions.

const keyPrefix = "jascrapers:"

// jobKey returns the Hash key for a job: jascrapers:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobsKey is the Sorted Set of every job ID scored by creation time in
// microseconds. Equal scores order by ID.
const jobsKey = keyPrefix + "jobs"

// idempotencyKey is the Hash mapping idempotency keys to job IDs.
const idempotencyKey = keyPrefix + "idempotency"

// tallyKey is the Hash of job counts keyed by tallyField(supplier, state).
const tallyKey = keyPrefix + "tally"

// eligibleKey returns the Sorted Set of pending and retrying jobs for a
// supplier, scored by creation time: jascrapers:eligible:{supplier}
func eligibleKey(supplier string) string { return keyPrefix + "eligible:" + supplier }

// retryingKey is the Sorted Set of retrying jobs scored by RunAt.
const retryingKey = keyPrefix + "retrying"

// leasesKey is the Sorted Set of running jobs scored by lease expiry.
const leasesKey = keyPrefix + "leases"

const tallySep = "\x1f"

func tallyField(supplier, state string) string { return supplier + tallySep + state }
