package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// CreateJob persists a new pending job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m, err := toJobModel(j)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	switch {
	case err == nil:
		return nil
	case uniqueViolation(err, "jascrapers_jobs.idempotency_key"):
		return jascrapers.ErrDuplicateIdempotencyKey
	case uniqueViolation(err, "jascrapers_jobs.id"):
		return jascrapers.ErrJobAlreadyExists
	default:
		return fmt.Errorf("jascrapers/sqlite: create job: %w", err)
	}
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, "id = ?", jobID.String())
}

// FindByIdempotencyKey returns the job created with key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	return s.getJob(ctx, "idempotency_key = ?", key)
}

func (s *Store) getJob(ctx context.Context, where string, arg any) (*job.Job, error) {
	m := new(jobModel)
	err := s.sdb.NewSelect(m).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, jascrapers.ErrJobNotFound
		}
		return nil, fmt.Errorf("jascrapers/sqlite: get job: %w", err)
	}
	return fromJobModel(m)
}

// ListJobs pages through matching jobs with a (created_at, id) keyset.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) iter.Seq2[*job.Job, error] {
	return job.Paginate(ctx, opts.PageSize, func(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]*job.Job, error) {
		var models []jobModel
		q := s.sdb.NewSelect(&models)
		if opts.State != "" {
			q = q.Where("state = ?", string(opts.State))
		}
		if opts.Supplier != "" {
			q = q.Where("supplier = ?", opts.Supplier)
		}
		if afterID != "" {
			c := nanos(afterCreated)
			q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", c, c, afterID)
		}
		if err := q.OrderExpr("created_at ASC, id ASC").Limit(limit).Scan(ctx); err != nil {
			return nil, fmt.Errorf("jascrapers/sqlite: list jobs: %w", err)
		}
		return fromJobModels("list jobs", models)
	})
}

// ListEligible returns pending jobs and due retrying jobs for supplier in
// creation order.
func (s *Store) ListEligible(ctx context.Context, supplier string, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.sdb.NewSelect(&models).
		Where("supplier = ?", supplier).
		Where("(state = 'pending' OR (state = 'retrying' AND run_at <= ?))", nanos(now)).
		OrderExpr("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: list eligible: %w", err)
	}
	return fromJobModels("list eligible", models)
}

// NextRunAt returns the earliest future RunAt among retrying jobs.
func (s *Store) NextRunAt(ctx context.Context, now time.Time) (time.Time, error) {
	var next sql.NullInt64
	if err := s.sdb.QueryRow(ctx,
		`SELECT MIN(run_at) FROM jascrapers_jobs WHERE state = 'retrying' AND run_at > ?`, nanos(now),
	).Scan(&next); err != nil {
		return time.Time{}, fmt.Errorf("jascrapers/sqlite: next run at: %w", err)
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return fromNanos(next.Int64), nil
}

// Transition applies t with an optimistic version check.
func (s *Store) Transition(ctx context.Context, t job.Transition) (*job.Job, error) {
	load := func(ctx context.Context) (*job.Job, error) {
		return s.GetJob(ctx, t.JobID)
	}
	return job.CompareAndSwap(ctx, t, load, s.swap)
}

func (s *Store) swap(ctx context.Context, next *job.Job, expected int64) (bool, error) {
	m, err := toJobModel(next)
	if err != nil {
		return false, err
	}
	res, err := s.sdb.NewUpdate((*jobModel)(nil)).
		Set("state = ?", m.State).
		Set("version = ?", m.Version).
		Set("attempt_count = ?", m.AttemptCount).
		Set("run_at = ?", m.RunAt).
		Set("worker_id = ?", m.WorkerID).
		Set("lease_expires_at = ?", m.LeaseExpiresAt).
		Set("started_at = ?", m.StartedAt).
		Set("finished_at = ?", m.FinishedAt).
		Set("result_ref = ?", m.ResultRef).
		Set("record_count = ?", m.RecordCount).
		Set("dropped_count = ?", m.DroppedCount).
		Set("last_error = ?", m.LastError).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", expected).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("jascrapers/sqlite: transition job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("jascrapers/sqlite: transition job: %w", err)
	}
	return n == 1, nil
}

// RenewLease extends the lease of a running job held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, version int64, until time.Time) error {
	res, err := s.sdb.NewUpdate((*jobModel)(nil)).
		Set("lease_expires_at = ?", nanos(until)).
		Where("id = ?", jobID.String()).
		Where("state = 'running'").
		Where("version = ?", version).
		Where("worker_id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("jascrapers/sqlite: renew lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 { //nolint:errcheck // driver always returns nil
		return nil
	}

	count, err := s.sdb.NewSelect((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("jascrapers/sqlite: renew lease: %w", err)
	}
	if count == 0 {
		return jascrapers.ErrJobNotFound
	}
	return fmt.Errorf("%w: lease on job %s is no longer held", jascrapers.ErrConflict, jobID)
}

// ExpiredLeases returns running jobs whose lease expired before now.
func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.sdb.NewSelect(&models).
		Where("state = 'running'").
		Where("lease_expires_at < ?", nanos(now)).
		OrderExpr("lease_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: expired leases: %w", err)
	}
	return fromJobModels("expired leases", models)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.sdb.NewSelect((*jobModel)(nil))
	if opts.Supplier != "" {
		q = q.Where("supplier = ?", opts.Supplier)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("jascrapers/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// Tally returns job counts grouped by supplier and state.
func (s *Store) Tally(ctx context.Context) ([]job.Tally, error) {
	rows, err := s.sdb.Query(ctx, `
		SELECT supplier, state, COUNT(*)
		FROM jascrapers_jobs
		GROUP BY supplier, state
		ORDER BY supplier, state`)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: tally: %w", err)
	}
	defer rows.Close()

	var out []job.Tally
	for rows.Next() {
		var (
			t     job.Tally
			state string
		)
		if err := rows.Scan(&t.Supplier, &state, &t.Count); err != nil {
			return nil, fmt.Errorf("jascrapers/sqlite: scan tally: %w", err)
		}
		t.State = job.State(state)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jascrapers/sqlite: iterate tally: %w", err)
	}
	return out, nil
}
