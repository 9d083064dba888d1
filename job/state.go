package job

import (
	"context"
	"fmt"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
)

// transitions lists the permitted edges of the state machine. Cancellation
// from any non-terminal state is handled in CanTransition.
var transitions = map[State][]State{
	StatePending:  {StateRunning},
	StateRunning:  {StateSucceeded, StateRetrying, StateFailed},
	StateRetrying: {StateRunning},
}

// Terminal reports whether s is a state the job never leaves.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to State) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes a requested state change.
type Transition struct {
	JobID id.JobID
	// Version, when non-zero, is the job version the caller read. The
	// transition fails with ErrConflict if the job has moved on since.
	Version int64
	To      State

	// Failure is recorded as LastError on retrying and failed.
	Failure *Failure
	// ResultRef, RecordCount and DroppedCount are recorded on succeeded.
	ResultRef    string
	RecordCount  int
	DroppedCount int
	// WorkerID and LeaseUntil establish the lease on running.
	WorkerID   id.WorkerID
	LeaseUntil time.Time
	// RunAt is the backoff deadline recorded on retrying.
	RunAt time.Time
}

// Apply checks t against j and, if permitted, mutates j into the
// post-transition job. Backends call it while holding whatever guarantees
// the swap is atomic.
func Apply(j *Job, t Transition, now time.Time) error {
	if t.Version != 0 && j.Version != t.Version {
		return fmt.Errorf("%w: job %s is at version %d, expected %d",
			jascrapers.ErrConflict, j.ID, j.Version, t.Version)
	}
	if !CanTransition(j.State, t.To) {
		return fmt.Errorf("%w: %s → %s", jascrapers.ErrInvalidTransition, j.State, t.To)
	}

	switch t.To {
	case StateRunning:
		if j.AttemptCount+1 > j.MaxAttempts() {
			return fmt.Errorf("%w: %w: attempt %d of %d",
				jascrapers.ErrInvalidTransition, jascrapers.ErrRetriesExhausted,
				j.AttemptCount+1, j.MaxAttempts())
		}
		j.AttemptCount++
		j.WorkerID = t.WorkerID
		lease := t.LeaseUntil
		j.LeaseExpiresAt = &lease
		started := now
		j.StartedAt = &started

	case StateRetrying:
		j.LastError = t.Failure
		j.RunAt = t.RunAt
		if j.RunAt.IsZero() {
			j.RunAt = now
		}
		j.releaseLease()

	case StateFailed:
		j.LastError = t.Failure
		j.finish(now)

	case StateSucceeded:
		j.LastError = nil
		j.ResultRef = t.ResultRef
		j.RecordCount = t.RecordCount
		j.DroppedCount = t.DroppedCount
		j.finish(now)

	case StateCancelled:
		j.finish(now)
	}

	j.State = t.To
	j.Version++
	j.UpdatedAt = now
	return nil
}

func (j *Job) releaseLease() {
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil
}

func (j *Job) finish(now time.Time) {
	j.releaseLease()
	finished := now
	j.FinishedAt = &finished
}

// maxSwapAttempts bounds the optimistic retry loop for unversioned
// transitions.
const maxSwapAttempts = 8

// CompareAndSwap runs the optimistic transition loop shared by backends
// without row locks: load the job, Apply the transition to a copy, and
// swap it in only if the stored version is still the one loaded. A versioned
// transition fails with ErrConflict on the first lost race; an unversioned
// one reloads and retries.
func CompareAndSwap(
	ctx context.Context,
	t Transition,
	load func(ctx context.Context) (*Job, error),
	swap func(ctx context.Context, next *Job, expected int64) (bool, error),
) (*Job, error) {
	for range maxSwapAttempts {
		cur, err := load(ctx)
		if err != nil {
			return nil, err
		}
		next := cur.Clone()
		if err := Apply(next, t, time.Now().UTC()); err != nil {
			return nil, err
		}
		ok, err := swap(ctx, next, cur.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		if t.Version != 0 {
			return nil, fmt.Errorf("%w: job %s changed concurrently", jascrapers.ErrConflict, t.JobID)
		}
	}
	return nil, fmt.Errorf("%w: job %s kept changing", jascrapers.ErrConflict, t.JobID)
}
