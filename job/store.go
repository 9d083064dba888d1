package job

import (
	"context"
	"iter"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
)

// DefaultPageSize is the keyset page size used by ListJobs when none is set.
const DefaultPageSize = 100

// ListOpts controls filtering for job list queries.
type ListOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Supplier filters by supplier name. Empty means all suppliers.
	Supplier string
	// PageSize is how many jobs each underlying query fetches.
	PageSize int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	Supplier string
	State    State
}

// Tally is the number of jobs of one supplier in one state.
type Tally struct {
	Supplier string `json:"supplier"`
	State    State  `json:"state"`
	Count    int64  `json:"count"`
}

// Store defines the persistence contract for jobs. The store is the single
// source of truth for job lifecycle data; every state change goes through
// Transition.
type Store interface {
	// CreateJob persists a new pending job. It returns
	// ErrDuplicateIdempotencyKey if another job already holds the key.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindByIdempotencyKey returns the job created with key.
	FindByIdempotencyKey(ctx context.Context, key string) (*Job, error)

	// ListJobs returns a lazy sequence of matching jobs ordered by
	// CreatedAt then ID. Pages are fetched as the sequence is consumed and
	// each range over the sequence starts a fresh scan.
	ListJobs(ctx context.Context, opts ListOpts) iter.Seq2[*Job, error]

	// ListEligible returns up to limit pending jobs and retrying jobs whose
	// RunAt has passed for one supplier, oldest first.
	ListEligible(ctx context.Context, supplier string, now time.Time, limit int) ([]*Job, error)

	// NextRunAt returns the earliest RunAt among retrying jobs that are not
	// yet eligible, or the zero time if there are none.
	NextRunAt(ctx context.Context, now time.Time) (time.Time, error)

	// Transition atomically applies t and returns the updated job.
	Transition(ctx context.Context, t Transition) (*Job, error)

	// RenewLease extends the lease of a running job held by workerID at
	// the given version. It returns ErrConflict if the job is no longer
	// leased that way.
	RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, version int64, until time.Time) error

	// ExpiredLeases returns up to limit running jobs whose lease expired
	// before now.
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// Tally returns job counts grouped by supplier and state.
	Tally(ctx context.Context) ([]Tally, error)
}

// Collect drains a job sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*Job, error]) ([]*Job, error) {
	var out []*Job
	for j, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, j)
	}
	return out, nil
}

// Paginate builds a ListJobs sequence from a keyset page function. fetch
// receives the (CreatedAt, ID) of the last job of the previous page, or the
// zero values for the first page.
func Paginate(
	ctx context.Context,
	pageSize int,
	fetch func(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]*Job, error),
) iter.Seq2[*Job, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(*Job, error) bool) {
		var (
			afterCreated time.Time
			afterID      string
		)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := fetch(ctx, afterCreated, afterID, pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, j := range page {
				if !yield(j, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			afterCreated, afterID = last.CreatedAt, last.ID.String()
		}
	}
}
