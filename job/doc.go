// Package job defines the scrape job entity, its state machine and the
// store contract every persistence backend implements.
//
// # Job Entity
//
// A [Job] is one unit of scraping work against a single supplier. It embeds
// [jascrapers.Entity] for timestamps, carries opaque string parameters that
// only the supplier adapter interprets, and moves through a state machine:
//
//	pending → running → succeeded
//	pending → running → retrying → running → ...
//	pending → running → failed
//	pending | running | retrying → cancelled
//
// Terminal states (succeeded, failed, cancelled) are never left.
//
// Fields of note:
//   - Version: bumped by every transition; the compare-and-swap token
//   - AttemptCount / MaxRetries: at most MaxRetries+1 attempts
//   - RunAt: earliest dispatch time (the backoff deadline for retries)
//   - WorkerID / LeaseExpiresAt: the lease held while running
//   - ResultRef: sink handle of the canonical output, set on success
//   - LastError: structured classification of the latest failure
//
// # Transitions
//
// Every state change goes through [Store.Transition], which validates the
// edge with [CanTransition] and applies it atomically. A transition that
// names the Version it read fails with ErrConflict when another transition
// got there first.
package job
