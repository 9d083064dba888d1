package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// errLeaseLost is the cancellation cause for a job whose lease renewal
// found it no longer held by this pool.
var errLeaseLost = fmt.Errorf("%w: lease lost", jascrapers.ErrConflict)

// activeJob is a running attempt and the means to stop it.
type activeJob struct {
	job    *job.Job
	cancel context.CancelCauseFunc
}

// Pool runs claimed jobs, one goroutine per job, and keeps their leases
// alive while they run. Admission control is the caller's concern: the
// scheduler only dispatches jobs it holds capacity for.
type Pool struct {
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	workerID   id.WorkerID
	logger     *slog.Logger

	leaseTTL          time.Duration
	heartbeatInterval time.Duration
	storeTimeout      time.Duration

	mu       sync.Mutex
	active   map[string]*activeJob
	running  bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	loopDone chan struct{}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLease sets the lease duration granted on each renewal and how often
// leases are renewed. A zero heartbeat disables renewal.
func WithLease(ttl, heartbeat time.Duration) PoolOption {
	return func(p *Pool) {
		p.leaseTTL = ttl
		p.heartbeatInterval = heartbeat
	}
}

// WithWorkerID sets the identity the pool holds leases under.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// WithPoolStoreTimeout bounds each lease renewal.
func WithPoolStoreTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.storeTimeout = d }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:             store,
		executor:          executor,
		extensions:        extensions,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		leaseTTL:          30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		storeTimeout:      10 * time.Second,
		active:            make(map[string]*activeJob),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identity the pool's leases are held under.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// LeaseTTL returns how long a lease lasts before it must be renewed.
func (p *Pool) LeaseTTL() time.Duration { return p.leaseTTL }

// Active returns the number of jobs currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Start launches the lease renewal loop. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Duration("lease_ttl", p.leaseTTL),
		slog.Duration("heartbeat_interval", p.heartbeatInterval),
	)

	if p.heartbeatInterval > 0 {
		p.loopDone = make(chan struct{})
		go p.heartbeatLoop()
	}
	return nil
}

// Dispatch runs j, which the caller has claimed under WorkerID, on its own
// goroutine. done, if non-nil, is called after the attempt has been
// recorded. Dispatch fails with ErrShuttingDown once Stop has been called.
func (p *Pool) Dispatch(j *job.Job, done func()) error {
	ctx, cancel := context.WithCancelCause(context.Background())

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		cancel(nil)
		return jascrapers.ErrShuttingDown
	}
	p.active[j.ID.String()] = &activeJob{job: j, cancel: cancel}
	p.wg.Add(1)
	p.mu.Unlock()

	p.extensions.EmitJobStarted(ctx, j)

	go func() {
		defer p.wg.Done()
		defer cancel(nil)

		if _, err := p.executor.Execute(ctx, j); err != nil {
			p.logger.Debug("job attempt ended without a result",
				slog.String("job_id", j.ID.String()),
				slog.String("supplier", j.Supplier),
				slog.String("error", err.Error()),
			)
		}

		p.mu.Lock()
		delete(p.active, j.ID.String())
		p.mu.Unlock()

		if done != nil {
			done()
		}
	}()
	return nil
}

// Cancel interrupts the running attempt of jobID, if any. The attempt is
// abandoned without writing a result; the caller is expected to have
// already moved the job to cancelled.
func (p *Pool) Cancel(jobID id.JobID) bool {
	p.mu.Lock()
	a, ok := p.active[jobID.String()]
	p.mu.Unlock()
	if ok {
		a.cancel(jascrapers.ErrJobCancelled)
	}
	return ok
}

// Stop interrupts every running attempt, which requeues it as retrying,
// and waits for the attempts to be recorded or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	loopDone := p.loopDone
	n := len(p.active)
	for _, a := range p.active {
		a.cancel(jascrapers.ErrShuttingDown)
	}
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("interrupted", n),
	)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		if loopDone != nil {
			<-loopDone
		}
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out", slog.Int("active", p.Active()))
		return ctx.Err()
	}
}

// heartbeatLoop renews the leases of running jobs.
func (p *Pool) heartbeatLoop() {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.renewLeases()
		}
	}
}

func (p *Pool) renewLeases() {
	p.mu.Lock()
	jobs := make([]*activeJob, 0, len(p.active))
	for _, a := range p.active {
		jobs = append(jobs, a)
	}
	p.mu.Unlock()

	for _, a := range jobs {
		until := time.Now().UTC().Add(p.leaseTTL)
		ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout)
		err := p.store.RenewLease(ctx, a.job.ID, p.workerID, a.job.Version, until)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, jascrapers.ErrConflict), errors.Is(err, jascrapers.ErrJobNotFound):
			p.logger.Warn("lease lost, interrupting job",
				slog.String("job_id", a.job.ID.String()),
				slog.String("supplier", a.job.Supplier),
			)
			a.cancel(errLeaseLost)
		default:
			p.logger.Warn("lease renewal failed",
				slog.String("job_id", a.job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
