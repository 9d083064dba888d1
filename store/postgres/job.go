package postgres

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

const jobColumns = `
	id, supplier, parameters, state, version, attempt_count, max_retries,
	idempotency_key, run_at, worker_id, lease_expires_at, started_at,
	finished_at, result_ref, record_count, dropped_count, last_error,
	created_at, updated_at`

// CreateJob persists a new pending job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jascrapers_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`,
		j.ID.String(), j.Supplier, j.Parameters, string(j.State), j.Version, j.AttemptCount, j.MaxRetries,
		nullString(j.IdempotencyKey), j.RunAt, j.WorkerID.String(), j.LeaseExpiresAt, j.StartedAt,
		j.FinishedAt, j.ResultRef, j.RecordCount, j.DroppedCount, j.LastError,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if constraint, dup := duplicateConstraint(err); dup {
			if constraint == idempotencyConstraint {
				return jascrapers.ErrDuplicateIdempotencyKey
			}
			return jascrapers.ErrJobAlreadyExists
		}
		return fmt.Errorf("jascrapers/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, `WHERE id = $1`, jobID.String())
}

// FindByIdempotencyKey returns the job created with key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*job.Job, error) {
	return s.getJob(ctx, `WHERE idempotency_key = $1`, key)
}

func (s *Store) getJob(ctx context.Context, where string, arg any) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jascrapers_jobs `+where, arg)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, jascrapers.ErrJobNotFound
		}
		return nil, fmt.Errorf("jascrapers/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobs pages through matching jobs with a (created_at, id) keyset.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) iter.Seq2[*job.Job, error] {
	return job.Paginate(ctx, opts.PageSize, func(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]*job.Job, error) {
		var (
			conds []string
			args  []any
		)
		arg := func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}
		if opts.State != "" {
			conds = append(conds, "state = "+arg(string(opts.State)))
		}
		if opts.Supplier != "" {
			conds = append(conds, "supplier = "+arg(opts.Supplier))
		}
		if afterID != "" {
			conds = append(conds, fmt.Sprintf("(created_at, id) > (%s, %s)", arg(afterCreated), arg(afterID)))
		}

		query := `SELECT ` + jobColumns + ` FROM jascrapers_jobs`
		if len(conds) > 0 {
			query += " WHERE " + strings.Join(conds, " AND ")
		}
		query += " ORDER BY created_at, id LIMIT " + arg(limit)

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("jascrapers/postgres: list jobs: %w", err)
		}
		defer rows.Close()
		return collectJobs(rows)
	})
}

// ListEligible returns pending jobs and due retrying jobs for supplier in
// creation order.
func (s *Store) ListEligible(ctx context.Context, supplier string, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jascrapers_jobs
		WHERE supplier = $1
		  AND (state = 'pending' OR (state = 'retrying' AND run_at <= $2))
		ORDER BY created_at, id
		LIMIT NULLIF($3::int, 0)`,
		supplier, now, max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: list eligible: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// NextRunAt returns the earliest future RunAt among retrying jobs.
func (s *Store) NextRunAt(ctx context.Context, now time.Time) (time.Time, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(run_at) FROM jascrapers_jobs WHERE state = 'retrying' AND run_at > $1`, now,
	).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("jascrapers/postgres: next run at: %w", err)
	}
	if next == nil {
		return time.Time{}, nil
	}
	return *next, nil
}

// Transition applies t with an optimistic version check.
func (s *Store) Transition(ctx context.Context, t job.Transition) (*job.Job, error) {
	load := func(ctx context.Context) (*job.Job, error) {
		return s.GetJob(ctx, t.JobID)
	}
	return job.CompareAndSwap(ctx, t, load, s.swap)
}

func (s *Store) swap(ctx context.Context, next *job.Job, expected int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jascrapers_jobs SET
			state = $3, version = $4, attempt_count = $5, run_at = $6,
			worker_id = $7, lease_expires_at = $8, started_at = $9,
			finished_at = $10, result_ref = $11, record_count = $12,
			dropped_count = $13, last_error = $14, updated_at = $15
		WHERE id = $1 AND version = $2`,
		next.ID.String(), expected,
		string(next.State), next.Version, next.AttemptCount, next.RunAt,
		next.WorkerID.String(), next.LeaseExpiresAt, next.StartedAt,
		next.FinishedAt, next.ResultRef, next.RecordCount,
		next.DroppedCount, next.LastError, next.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("jascrapers/postgres: transition job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLease extends the lease of a running job held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, version int64, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jascrapers_jobs SET lease_expires_at = $4
		WHERE id = $1 AND state = 'running' AND version = $2 AND worker_id = $3`,
		jobID.String(), version, workerID.String(), until,
	)
	if err != nil {
		return fmt.Errorf("jascrapers/postgres: renew lease: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jascrapers_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("jascrapers/postgres: renew lease: %w", err)
	}
	if !exists {
		return jascrapers.ErrJobNotFound
	}
	return fmt.Errorf("%w: lease on job %s is no longer held", jascrapers.ErrConflict, jobID)
}

// ExpiredLeases returns running jobs whose lease expired before now.
func (s *Store) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jascrapers_jobs
		WHERE state = 'running' AND lease_expires_at < $1
		ORDER BY lease_expires_at
		LIMIT NULLIF($2::int, 0)`,
		now, max(limit, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: expired leases: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM jascrapers_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Supplier != "" {
		query += fmt.Sprintf(" AND supplier = $%d", argIdx)
		args = append(args, opts.Supplier)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("jascrapers/postgres: count jobs: %w", err)
	}
	return count, nil
}

// Tally returns job counts grouped by supplier and state.
func (s *Store) Tally(ctx context.Context) ([]job.Tally, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT supplier, state, COUNT(*)
		FROM jascrapers_jobs
		GROUP BY supplier, state
		ORDER BY supplier, state`)
	if err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: tally: %w", err)
	}
	defer rows.Close()

	var out []job.Tally
	for rows.Next() {
		var (
			t     job.Tally
			state string
		)
		if err := rows.Scan(&t.Supplier, &state, &t.Count); err != nil {
			return nil, fmt.Errorf("jascrapers/postgres: scan tally: %w", err)
		}
		t.State = job.State(state)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: iterate tally: %w", err)
	}
	return out, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		key       *string
	)
	err := row.Scan(
		&idStr, &j.Supplier, &j.Parameters, &stateStr, &j.Version, &j.AttemptCount, &j.MaxRetries,
		&key, &j.RunAt, &workerStr, &j.LeaseExpiresAt, &j.StartedAt,
		&j.FinishedAt, &j.ResultRef, &j.RecordCount, &j.DroppedCount, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	if key != nil {
		j.IdempotencyKey = *key
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jascrapers/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jascrapers/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jascrapers/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
