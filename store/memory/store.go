package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Ensure Store implements job.Store at compile time.
// We can't import store here (import cycle in tests), so we verify the
// job contract.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs  map[string]*job.Job
	byKey map[string]string // idempotency key → job ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		byKey: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jascrapers.ErrJobAlreadyExists
	}
	if j.IdempotencyKey != "" {
		if _, exists := m.byKey[j.IdempotencyKey]; exists {
			return jascrapers.ErrDuplicateIdempotencyKey
		}
		m.byKey[j.IdempotencyKey] = key
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jascrapers.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindByIdempotencyKey returns the job created with key.
func (m *Store) FindByIdempotencyKey(_ context.Context, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.byKey[key]
	if !ok {
		return nil, jascrapers.ErrJobNotFound
	}
	return m.jobs[jobID].Clone(), nil
}

// ListJobs returns matching jobs ordered by CreatedAt then ID. Each page
// takes a fresh snapshot, so jobs created during iteration after the
// cursor are included.
func (m *Store) ListJobs(ctx context.Context, opts job.ListOpts) iter.Seq2[*job.Job, error] {
	return job.Paginate(ctx, opts.PageSize, func(_ context.Context, afterCreated time.Time, afterID string, limit int) ([]*job.Job, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		var page []*job.Job
		for _, j := range m.jobs {
			if opts.State != "" && j.State != opts.State {
				continue
			}
			if opts.Supplier != "" && j.Supplier != opts.Supplier {
				continue
			}
			if !afterCursor(j, afterCreated, afterID) {
				continue
			}
			page = append(page, j)
		}
		slices.SortFunc(page, byCreated)
		if len(page) > limit {
			page = page[:limit]
		}
		for i, j := range page {
			page[i] = j.Clone()
		}
		return page, nil
	})
}

// ListEligible returns pending jobs and retrying jobs whose RunAt has
// passed, in creation order.
func (m *Store) ListEligible(_ context.Context, supplier string, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.Supplier != supplier || !eligible(j, now) {
			continue
		}
		out = append(out, j)
	}
	slices.SortFunc(out, byCreated)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out, nil
}

// NextRunAt returns the earliest future RunAt among retrying jobs.
func (m *Store) NextRunAt(_ context.Context, now time.Time) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var next time.Time
	for _, j := range m.jobs {
		if j.State != job.StateRetrying || !j.RunAt.After(now) {
			continue
		}
		if next.IsZero() || j.RunAt.Before(next) {
			next = j.RunAt
		}
	}
	return next, nil
}

// Transition applies t under the store lock.
func (m *Store) Transition(_ context.Context, t job.Transition) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[t.JobID.String()]
	if !ok {
		return nil, jascrapers.ErrJobNotFound
	}
	next := cur.Clone()
	if err := job.Apply(next, t, time.Now().UTC()); err != nil {
		return nil, err
	}
	m.jobs[t.JobID.String()] = next
	return next.Clone(), nil
}

// RenewLease extends the lease of a running job.
func (m *Store) RenewLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, version int64, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jascrapers.ErrJobNotFound
	}
	if j.State != job.StateRunning || j.Version != version || j.WorkerID.String() != workerID.String() {
		return jascrapers.ErrConflict
	}
	lease := until
	j.LeaseExpiresAt = &lease
	return nil
}

// ExpiredLeases returns running jobs whose lease expired before now,
// oldest lease first.
func (m *Store) ExpiredLeases(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.State == job.StateRunning && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now) {
			out = append(out, j)
		}
	}
	slices.SortFunc(out, func(a, b *job.Job) int {
		return a.LeaseExpiresAt.Compare(*b.LeaseExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, j := range out {
		out[i] = j.Clone()
	}
	return out, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Supplier != "" && j.Supplier != opts.Supplier {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// Tally returns job counts grouped by supplier and state.
func (m *Store) Tally(_ context.Context) ([]job.Tally, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		supplier string
		state    job.State
	}
	counts := make(map[key]int64)
	for _, j := range m.jobs {
		counts[key{j.Supplier, j.State}]++
	}
	out := make([]job.Tally, 0, len(counts))
	for k, n := range counts {
		out = append(out, job.Tally{Supplier: k.supplier, State: k.state, Count: n})
	}
	slices.SortFunc(out, func(a, b job.Tally) int {
		if c := cmp.Compare(a.Supplier, b.Supplier); c != 0 {
			return c
		}
		return cmp.Compare(a.State, b.State)
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func eligible(j *job.Job, now time.Time) bool {
	switch j.State {
	case job.StatePending:
		return true
	case job.StateRetrying:
		return !j.RunAt.After(now)
	default:
		return false
	}
}

func afterCursor(j *job.Job, afterCreated time.Time, afterID string) bool {
	if afterCreated.IsZero() && afterID == "" {
		return true
	}
	if c := j.CreatedAt.Compare(afterCreated); c != 0 {
		return c > 0
	}
	return j.ID.String() > afterID
}

func byCreated(a, b *job.Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}
