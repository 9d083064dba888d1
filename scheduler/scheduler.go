// Package scheduler decides which job runs next. Each scan reclaims jobs
// whose lease expired, then claims eligible jobs round-robin across
// suppliers while the global and per-supplier caps allow, and hands them
// to the worker pool.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/capacity"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Dispatcher runs claimed jobs. *worker.Pool implements it.
type Dispatcher interface {
	WorkerID() id.WorkerID
	LeaseTTL() time.Duration
	Dispatch(j *job.Job, done func()) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithScanInterval sets how often the scheduler scans when nothing wakes
// it earlier.
func WithScanInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.scanInterval = d
		}
	}
}

// WithBatchSize sets how many eligible jobs are fetched per supplier, and
// how many expired leases are reclaimed, per query.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithStoreTimeout bounds each store call made during a scan.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// Scheduler claims eligible jobs and dispatches them.
type Scheduler struct {
	store      job.Store
	caps       *capacity.Manager
	pool       Dispatcher
	extensions *ext.Registry
	suppliers  []string
	logger     *slog.Logger

	scanInterval time.Duration
	batchSize    int
	storeTimeout time.Duration

	// scanMu serializes scans; offset rotates the supplier the next scan
	// starts with.
	scanMu sync.Mutex
	offset int

	wake chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a Scheduler over the given suppliers.
func New(
	store job.Store,
	caps *capacity.Manager,
	pool Dispatcher,
	extensions *ext.Registry,
	suppliers []string,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:        store,
		caps:         caps,
		pool:         pool,
		extensions:   extensions,
		suppliers:    suppliers,
		logger:       logger,
		scanInterval: time.Second,
		batchSize:    32,
		storeTimeout: 10 * time.Second,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wake triggers a scan as soon as the loop is free. It never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting",
		slog.Int("suppliers", len(s.suppliers)),
		slog.Duration("scan_interval", s.scanInterval),
	)
	go s.loop()
	return nil
}

// Stop ends the scheduling loop and waits for the current scan to finish
// or for ctx to expire. Jobs already dispatched are the pool's concern.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	stopCh, done := s.stopCh, s.done
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
		case <-s.wake:
		}

		next, err := s.Scan(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler scan failed", slog.String("error", err.Error()))
		}

		// Sleep until the next scan interval, or until the earliest
		// backoff deadline if that comes sooner.
		wait := s.scanInterval
		if !next.IsZero() {
			wait = min(wait, max(time.Until(next), 0))
		}
		timer.Reset(wait)
	}
}

// Scan runs one scheduling pass and returns the earliest future RunAt
// among retrying jobs, or the zero time if none is waiting.
func (s *Scheduler) Scan(ctx context.Context) (time.Time, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	if err := s.reclaim(ctx); err != nil {
		return time.Time{}, err
	}
	if err := s.dispatch(ctx); err != nil {
		return time.Time{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.NextRunAt(sctx, time.Now().UTC())
}

// ── Lease reclamation ───────────────────────────────

// reclaim returns running jobs whose lease expired to retrying, or to
// failed when they have no attempts left.
func (s *Scheduler) reclaim(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	expired, err := s.store.ExpiredLeases(sctx, time.Now().UTC(), s.batchSize)
	cancel()
	if err != nil {
		return err
	}

	for _, j := range expired {
		now := time.Now().UTC()
		f := &job.Failure{
			Class:   jascrapers.ClassTransient,
			Message: "lease expired",
			Attempt: j.AttemptCount,
			At:      now,
		}
		t := job.Transition{JobID: j.ID, Version: j.Version, To: job.StateRetrying, Failure: f, RunAt: now}
		if j.AttemptCount >= j.MaxAttempts() {
			t.To = job.StateFailed
		}

		updated, err := s.transition(ctx, t)
		switch {
		case errors.Is(err, jascrapers.ErrConflict):
			continue
		case err != nil:
			s.logger.Error("failed to reclaim expired lease",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Warn("reclaimed job with expired lease",
			slog.String("job_id", j.ID.String()),
			slog.String("supplier", j.Supplier),
			slog.String("worker_id", j.WorkerID.String()),
			slog.String("state", string(updated.State)),
		)
		s.extensions.EmitLeaseReclaimed(ctx, updated)
		if updated.State == job.StateFailed {
			s.extensions.EmitJobFailed(ctx, updated, f)
		}
	}
	return nil
}

// ── Dispatch ────────────────────────────────────────

// queue is one supplier's eligible jobs fetched during a scan.
type queue struct {
	name    string
	jobs    []*job.Job
	drained bool // the last fetch came back short
	done    bool
}

// dispatch claims eligible jobs one per supplier per round, starting with
// a different supplier each scan, until every supplier is drained or
// capped.
func (s *Scheduler) dispatch(ctx context.Context) error {
	n := len(s.suppliers)
	if n == 0 {
		return nil
	}
	queues := make([]*queue, n)
	start := s.offset % n
	s.offset++
	for i := range n {
		queues[i] = &queue{name: s.suppliers[(start+i)%n]}
	}

	for progress := true; progress; {
		progress = false
		for _, q := range queues {
			if q.done {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if s.caps.GlobalSpare() == 0 {
				return nil
			}
			if !s.caps.HasSpare(q.name) {
				q.done = true
				continue
			}
			j, err := s.next(ctx, q)
			if err != nil {
				return err
			}
			if j == nil {
				continue
			}
			// A job lost to a concurrent claim still leaves the supplier
			// worth another round.
			if s.claim(ctx, q, j) || !q.done {
				progress = true
			}
		}
	}
	return nil
}

// next pops the supplier's oldest eligible job, fetching a batch when the
// local queue is empty.
func (s *Scheduler) next(ctx context.Context, q *queue) (*job.Job, error) {
	if len(q.jobs) == 0 {
		if q.drained {
			q.done = true
			return nil, nil
		}
		sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		jobs, err := s.store.ListEligible(sctx, q.name, time.Now().UTC(), s.batchSize)
		cancel()
		if err != nil {
			return nil, err
		}
		q.jobs, q.drained = jobs, len(jobs) < s.batchSize
		if len(jobs) == 0 {
			q.done = true
			return nil, nil
		}
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

// claim takes capacity for j, moves it to running under the pool's lease
// and dispatches it. It reports whether the job was handed to the pool.
func (s *Scheduler) claim(ctx context.Context, q *queue, j *job.Job) bool {
	if !s.caps.TryAcquire(q.name) {
		q.done = true
		return false
	}

	claimed, err := s.transition(ctx, job.Transition{
		JobID:      j.ID,
		Version:    j.Version,
		To:         job.StateRunning,
		WorkerID:   s.pool.WorkerID(),
		LeaseUntil: time.Now().UTC().Add(s.pool.LeaseTTL()),
	})
	if err != nil {
		s.caps.Release(q.name)
		switch {
		case errors.Is(err, jascrapers.ErrConflict):
			s.logger.Debug("job claimed elsewhere", slog.String("job_id", j.ID.String()))
		case errors.Is(err, jascrapers.ErrRetriesExhausted):
			s.exhaust(ctx, j)
		default:
			s.logger.Error("failed to claim job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			q.done = true
		}
		return false
	}

	done := func() {
		s.caps.Release(q.name)
		s.Wake()
	}
	if err := s.pool.Dispatch(claimed, done); err != nil {
		s.caps.Release(q.name)
		s.requeue(ctx, claimed, err)
		q.done = true
		return false
	}

	s.logger.Debug("job dispatched",
		slog.String("job_id", claimed.ID.String()),
		slog.String("supplier", claimed.Supplier),
		slog.Int("attempt", claimed.AttemptCount),
	)
	return true
}

// exhaust fails an eligible job that has no attempts left.
func (s *Scheduler) exhaust(ctx context.Context, j *job.Job) {
	f := &job.Failure{
		Class:   jascrapers.ClassTransient,
		Message: jascrapers.ErrRetriesExhausted.Error(),
		Attempt: j.AttemptCount,
		At:      time.Now().UTC(),
	}
	failed, err := s.transition(ctx, job.Transition{JobID: j.ID, Version: j.Version, To: job.StateFailed, Failure: f})
	if err != nil {
		if !errors.Is(err, jascrapers.ErrConflict) {
			s.logger.Error("failed to fail exhausted job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	s.extensions.EmitJobFailed(ctx, failed, f)
}

// requeue returns a claimed job the pool refused to retrying.
func (s *Scheduler) requeue(ctx context.Context, j *job.Job, cause error) {
	now := time.Now().UTC()
	f := &job.Failure{
		Class:   jascrapers.ClassTransient,
		Message: "interrupted: " + cause.Error(),
		Attempt: j.AttemptCount,
		At:      now,
	}
	t := job.Transition{JobID: j.ID, Version: j.Version, To: job.StateRetrying, Failure: f, RunAt: now}
	if j.AttemptCount >= j.MaxAttempts() {
		t.To = job.StateFailed
	}
	if _, err := s.transition(ctx, t); err != nil {
		s.logger.Error("failed to requeue undispatched job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// transition runs a store transition that must land even if ctx is
// cancelled mid-scan.
func (s *Scheduler) transition(ctx context.Context, t job.Transition) (*job.Job, error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	return s.store.Transition(sctx, t)
}
