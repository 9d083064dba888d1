package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// CreateJob stores the job Hash and indexes it.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	data, err := encodeJob(j)
	if err != nil {
		return err
	}
	jID := j.ID.String()

	res, err := createScript.Run(ctx, s.client,
		[]string{jobKey(jID), idempotencyKey, jobsKey, tallyKey, eligibleKey(j.Supplier)},
		jID, j.IdempotencyKey, data, j.Version, string(j.State),
		scoreArg(j.CreatedAt), tallyField(j.Supplier, string(j.State)),
	).Int()
	if err != nil {
		return fmt.Errorf("jascrapers/redis: create job: %w", err)
	}
	switch res {
	case -1:
		return jascrapers.ErrJobAlreadyExists
	case -2:
		return jascrapers.ErrDuplicateIdempotencyKey
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	data, err := s.client.HGet(ctx, jobKey(jobID.String()), "data").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, jascrapers.ErrJobNotFound
		}
		return nil, fmt.Errorf("jascrapers/redis: get job: %w", err)
	}
	return decodeJob(data)
}

// FindByIdempotencyKey returns the job created with key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, idempotencyKey, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, jascrapers.ErrJobNotFound
		}
		return nil, fmt.Errorf("jascrapers/redis: find by idempotency key: %w", err)
	}
	jobID, err := id.ParseJobID(jID)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/redis: find by idempotency key: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// ListJobs walks the creation index from the cursor, filtering as it goes.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) iter.Seq2[*job.Job, error] {
	return job.Paginate(ctx, opts.PageSize, func(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]*job.Job, error) {
		start := "-inf"
		if afterID != "" {
			start = scoreArg(afterCreated)
		}

		var (
			page   []*job.Job
			offset int64
			batch  = int64(limit)
		)
		for len(page) < limit {
			ids, err := s.client.ZRangeArgs(ctx, goredis.ZRangeArgs{
				Key: jobsKey, Start: start, Stop: "+inf", ByScore: true,
				Offset: offset, Count: batch,
			}).Result()
			if err != nil {
				return nil, fmt.Errorf("jascrapers/redis: list jobs: %w", err)
			}
			offset += int64(len(ids))

			jobs, err := s.loadJobs(ctx, ids)
			if err != nil {
				return nil, err
			}
			for _, j := range jobs {
				if afterID != "" && !afterCursor(j, afterCreated, afterID) {
					continue
				}
				if opts.State != "" && j.State != opts.State {
					continue
				}
				if opts.Supplier != "" && j.Supplier != opts.Supplier {
					continue
				}
				page = append(page, j)
				if len(page) == limit {
					break
				}
			}
			if int64(len(ids)) < batch {
				break
			}
		}
		return page, nil
	})
}

// ListEligible walks the supplier's eligible index in creation order and
// returns pending jobs and retrying jobs whose RunAt has passed.
func (s *Store) ListEligible(ctx context.Context, supplier string, now time.Time, limit int) ([]*job.Job, error) {
	const batch = 100
	var (
		out    []*job.Job
		offset int64
	)
	for limit <= 0 || len(out) < limit {
		ids, err := s.client.ZRangeArgs(ctx, goredis.ZRangeArgs{
			Key: eligibleKey(supplier), Start: "-inf", Stop: "+inf", ByScore: true,
			Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("jascrapers/redis: list eligible: %w", err)
		}
		offset += int64(len(ids))

		jobs, err := s.loadJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		slices.SortFunc(jobs, byCreated)
		for _, j := range jobs {
			if j.State == job.StateRetrying && j.RunAt.After(now) {
				continue
			}
			out = append(out, j)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		if len(ids) < batch {
			break
		}
	}
	return out, nil
}

func byCreated(a, b *job.Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

// NextRunAt returns the earliest future RunAt among retrying jobs.
func (s *Store) NextRunAt(ctx context.Context, now time.Time) (time.Time, error) {
	zs, err := s.client.ZRangeArgsWithScores(ctx, goredis.ZRangeArgs{
		Key: retryingKey, Start: "(" + scoreArg(now), Stop: "+inf", ByScore: true,
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("jascrapers/redis: next run at: %w", err)
	}
	if len(zs) == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(int64(zs[0].Score)).UTC(), nil
}

// Transition applies t with a version-checked Lua swap.
func (s *Store) Transition(ctx context.Context, t job.Transition) (*job.Job, error) {
	var prev *job.Job
	load := func(ctx context.Context) (*job.Job, error) {
		j, err := s.GetJob(ctx, t.JobID)
		prev = j
		return j, err
	}
	swap := func(ctx context.Context, next *job.Job, expected int64) (bool, error) {
		return s.swap(ctx, prev, next, expected)
	}
	return job.CompareAndSwap(ctx, t, load, swap)
}

func (s *Store) swap(ctx context.Context, prev, next *job.Job, expected int64) (bool, error) {
	data, err := encodeJob(next)
	if err != nil {
		return false, err
	}
	var lease time.Time
	if next.LeaseExpiresAt != nil {
		lease = *next.LeaseExpiresAt
	}
	jID := next.ID.String()

	res, err := swapScript.Run(ctx, s.client,
		[]string{jobKey(jID), tallyKey, eligibleKey(next.Supplier), retryingKey, leasesKey},
		jID, expected, next.Version, string(next.State), data,
		tallyField(prev.Supplier, string(prev.State)), tallyField(next.Supplier, string(next.State)),
		scoreArg(next.RunAt), scoreArg(lease), scoreArg(next.CreatedAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("jascrapers/redis: transition job: %w", err)
	}
	if res == -1 {
		return false, jascrapers.ErrJobNotFound
	}
	return res == 1, nil
}

// RenewLease extends the lease of a running job held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, version int64, until time.Time) error {
	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if cur.State != job.StateRunning || cur.Version != version || cur.WorkerID.String() != workerID.String() {
		return fmt.Errorf("%w: lease on job %s is no longer held", jascrapers.ErrConflict, jobID)
	}

	lease := until
	cur.LeaseExpiresAt = &lease
	data, err := encodeJob(cur)
	if err != nil {
		return err
	}

	jID := jobID.String()
	res, err := renewScript.Run(ctx, s.client,
		[]string{jobKey(jID), leasesKey},
		jID, version, data, scoreArg(until),
	).Int()
	if err != nil {
		return fmt.Errorf("jascrapers/redis: renew lease: %w", err)
	}
	switch res {
	case -1:
		return jascrapers.ErrJobNotFound
	case 0:
		return fmt.Errorf("%w: lease on job %s is no longer held", jascrapers.ErrConflict, jobID)
	}
	return nil
}

// ExpiredLeases returns running jobs whose lease expired before now.
func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeArgs(ctx, goredis.ZRangeArgs{
		Key: leasesKey, Start: "-inf", Stop: "(" + scoreArg(now), ByScore: true,
		Count: int64(max(limit, 0)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("jascrapers/redis: expired leases: %w", err)
	}
	return s.loadJobs(ctx, ids)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Supplier == "" && opts.State == "" {
		n, err := s.client.ZCard(ctx, jobsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("jascrapers/redis: count jobs: %w", err)
		}
		return n, nil
	}

	tally, err := s.Tally(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, t := range tally {
		if opts.Supplier != "" && t.Supplier != opts.Supplier {
			continue
		}
		if opts.State != "" && t.State != opts.State {
			continue
		}
		n += t.Count
	}
	return n, nil
}

// Tally returns job counts grouped by supplier and state.
func (s *Store) Tally(ctx context.Context) ([]job.Tally, error) {
	fields, err := s.client.HGetAll(ctx, tallyKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jascrapers/redis: tally: %w", err)
	}

	out := make([]job.Tally, 0, len(fields))
	for field, raw := range fields {
		supplier, state, ok := strings.Cut(field, tallySep)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(raw, &n); err != nil || n <= 0 {
			continue
		}
		out = append(out, job.Tally{Supplier: supplier, State: job.State(state), Count: n})
	}
	slices.SortFunc(out, func(a, b job.Tally) int {
		if c := cmp.Compare(a.Supplier, b.Supplier); c != 0 {
			return c
		}
		return cmp.Compare(a.State, b.State)
	})
	return out, nil
}

// loadJobs fetches job bodies in one pipeline, skipping IDs whose Hash has
// disappeared.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGet(ctx, jobKey(jID), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("jascrapers/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("jascrapers/redis: load jobs: %w", err)
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func afterCursor(j *job.Job, afterCreated time.Time, afterID string) bool {
	a, b := j.CreatedAt.UnixMicro(), afterCreated.UnixMicro()
	if a != b {
		return a > b
	}
	return j.ID.String() > afterID
}
