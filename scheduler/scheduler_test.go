package scheduler_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/capacity"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/scheduler"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
)

// fakePool records dispatched jobs and lets the test decide when they
// finish.
type fakePool struct {
	wid id.WorkerID

	mu    sync.Mutex
	jobs  []*job.Job
	dones []func()
	err   error
}

func newFakePool() *fakePool { return &fakePool{wid: id.NewWorkerID()} }

func (p *fakePool) WorkerID() id.WorkerID   { return p.wid }
func (p *fakePool) LeaseTTL() time.Duration { return time.Minute }

func (p *fakePool) Dispatch(j *job.Job, done func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, j)
	p.dones = append(p.dones, done)
	return nil
}

func (p *fakePool) dispatched() []*job.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*job.Job(nil), p.jobs...)
}

// finishAll runs every pending done callback, as the pool would when the
// attempts end.
func (p *fakePool) finishAll() {
	p.mu.Lock()
	dones := p.dones
	p.dones = nil
	p.mu.Unlock()
	for _, done := range dones {
		done()
	}
}

type fixture struct {
	store *memory.Store
	caps  *capacity.Manager
	pool  *fakePool
	sched *scheduler.Scheduler
}

func newFixture(global int, configs []capacity.Config, suppliers ...string) *fixture {
	logger := slog.Default()
	f := &fixture{
		store: memory.New(),
		caps:  capacity.NewManager(global, configs...),
		pool:  newFakePool(),
	}
	f.sched = scheduler.New(f.store, f.caps, f.pool, ext.NewRegistry(logger), suppliers, logger,
		scheduler.WithScanInterval(time.Hour),
		scheduler.WithBatchSize(2),
	)
	return f
}

func (f *fixture) create(t *testing.T, supplierName string, maxRetries int) *job.Job {
	t.Helper()
	j := job.New(supplierName, map[string]string{"part": "AN3-5A"}, maxRetries)
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

func (f *fixture) scan(t *testing.T) time.Time {
	t.Helper()
	next, err := f.sched.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return next
}

func (f *fixture) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return j
}

func suppliersOf(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Supplier
	}
	return out
}

func TestScan_ClaimsAndDispatches(t *testing.T) {
	f := newFixture(0, nil, "acme")
	a := f.create(t, "acme", 3)
	b := f.create(t, "acme", 3)
	c := f.create(t, "acme", 3)

	f.scan(t)

	got := f.pool.dispatched()
	if len(got) != 3 {
		t.Fatalf("dispatched %d jobs, want 3", len(got))
	}
	for _, want := range []*job.Job{a, b, c} {
		j := f.get(t, want.ID)
		if j.State != job.StateRunning || j.AttemptCount != 1 {
			t.Errorf("job %s: state=%s attempts=%d", j.ID, j.State, j.AttemptCount)
		}
		if j.WorkerID.String() != f.pool.wid.String() || j.LeaseExpiresAt == nil {
			t.Errorf("job %s not leased to the pool", j.ID)
		}
	}
	if n := f.caps.ActiveTotal(); n != 3 {
		t.Errorf("ActiveTotal() = %d, want 3 slots held", n)
	}

	f.pool.finishAll()
	if n := f.caps.ActiveTotal(); n != 0 {
		t.Errorf("ActiveTotal() = %d after finish, want 0", n)
	}
}

func TestScan_RespectsSupplierCap(t *testing.T) {
	f := newFixture(0, []capacity.Config{{Supplier: "acme", MaxConcurrency: 1}}, "acme")
	for range 3 {
		f.create(t, "acme", 3)
	}

	f.scan(t)
	f.scan(t)
	if n := len(f.pool.dispatched()); n != 1 {
		t.Fatalf("dispatched %d jobs with a cap of 1", n)
	}

	f.pool.finishAll()
	f.scan(t)
	if n := len(f.pool.dispatched()); n != 2 {
		t.Fatalf("dispatched %d jobs after a slot freed, want 2", n)
	}
	if peak := f.caps.Peak("acme"); peak != 1 {
		t.Errorf("Peak = %d, want 1", peak)
	}
}

func TestScan_DispatchesInCreationOrder(t *testing.T) {
	f := newFixture(0, []capacity.Config{{Supplier: "acme", MaxConcurrency: 1}}, "acme")
	ctx := context.Background()

	older := f.create(t, "acme", 3)
	running, err := f.store.Transition(ctx, job.Transition{
		JobID: older.ID, Version: older.Version, To: job.StateRunning,
		WorkerID: id.NewWorkerID(), LeaseUntil: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	newer := f.create(t, "acme", 3)

	// The older job comes back from a failed attempt after the newer one
	// was queued; its backoff is already due.
	if _, err := f.store.Transition(ctx, job.Transition{
		JobID: older.ID, Version: running.Version, To: job.StateRetrying, RunAt: time.Now(),
		Failure: &job.Failure{Class: jascrapers.ClassTransient, Message: "503"},
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}

	f.scan(t)
	got := f.pool.dispatched()
	if len(got) != 1 {
		t.Fatalf("dispatched %d jobs with a cap of 1", len(got))
	}
	if got[0].ID.String() != older.ID.String() {
		t.Fatalf("dispatched %s before older eligible job %s", got[0].ID, older.ID)
	}

	f.pool.finishAll()
	f.scan(t)
	got = f.pool.dispatched()
	if len(got) != 2 || got[1].ID.String() != newer.ID.String() {
		t.Fatalf("second dispatch should be the newer job, got %d jobs", len(got))
	}
}

func TestScan_RespectsGlobalCap(t *testing.T) {
	f := newFixture(2, nil, "acme", "boeing", "cessna")
	for _, name := range []string{"acme", "boeing", "cessna"} {
		f.create(t, name, 3)
		f.create(t, name, 3)
	}

	f.scan(t)
	got := f.pool.dispatched()
	if len(got) != 2 {
		t.Fatalf("dispatched %d jobs with a global cap of 2", len(got))
	}
	if got[0].Supplier == got[1].Supplier {
		t.Errorf("expected one job per supplier per round, got %v", suppliersOf(got))
	}
}

func TestScan_RotatesStartingSupplier(t *testing.T) {
	f := newFixture(1, nil, "acme", "boeing")
	for range 3 {
		f.create(t, "acme", 3)
		f.create(t, "boeing", 3)
	}

	for range 4 {
		f.scan(t)
		f.pool.finishAll()
	}

	got := suppliersOf(f.pool.dispatched())
	want := []string{"acme", "boeing", "acme", "boeing"}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", got, want)
		}
	}
}

func TestScan_ReclaimsExpiredLease(t *testing.T) {
	f := newFixture(0, nil, "acme")
	j := f.create(t, "acme", 3)
	if _, err := f.store.Transition(context.Background(), job.Transition{
		JobID: j.ID, Version: j.Version, To: job.StateRunning,
		WorkerID: id.NewWorkerID(), LeaseUntil: time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	f.scan(t)

	// Reclaimed as retrying due now, then claimed again in the same scan.
	got := f.get(t, j.ID)
	if got.State != job.StateRunning || got.AttemptCount != 2 {
		t.Fatalf("state=%s attempts=%d, want running attempt 2", got.State, got.AttemptCount)
	}
	if got.LastError == nil || got.LastError.Message != "lease expired" {
		t.Errorf("unexpected last error: %+v", got.LastError)
	}
	if got.WorkerID.String() != f.pool.wid.String() {
		t.Error("reclaimed job should be leased to this pool")
	}
}

func TestScan_ExpiredLeaseOnLastAttemptFails(t *testing.T) {
	f := newFixture(0, nil, "acme")
	j := f.create(t, "acme", 0)
	if _, err := f.store.Transition(context.Background(), job.Transition{
		JobID: j.ID, Version: j.Version, To: job.StateRunning,
		WorkerID: id.NewWorkerID(), LeaseUntil: time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	f.scan(t)

	got := f.get(t, j.ID)
	if got.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.LastError == nil || got.LastError.Class != jascrapers.ClassTransient {
		t.Errorf("unexpected last error: %+v", got.LastError)
	}
	if n := len(f.pool.dispatched()); n != 0 {
		t.Errorf("failed job was dispatched %d times", n)
	}
}

func TestScan_ReturnsNextBackoffDeadline(t *testing.T) {
	f := newFixture(0, nil, "acme")
	j := f.create(t, "acme", 3)
	ctx := context.Background()
	running, err := f.store.Transition(ctx, job.Transition{
		JobID: j.ID, Version: j.Version, To: job.StateRunning,
		WorkerID: f.pool.wid, LeaseUntil: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	runAt := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	if _, err := f.store.Transition(ctx, job.Transition{
		JobID: j.ID, Version: running.Version, To: job.StateRetrying, RunAt: runAt,
		Failure: &job.Failure{Class: jascrapers.ClassTransient, Message: "503"},
	}); err != nil {
		t.Fatalf("retry: %v", err)
	}

	next := f.scan(t)
	if !next.Equal(runAt) {
		t.Errorf("Scan() next = %v, want %v", next, runAt)
	}
	if n := len(f.pool.dispatched()); n != 0 {
		t.Errorf("job in backoff was dispatched")
	}
}

func TestScan_RefusedDispatchRequeues(t *testing.T) {
	f := newFixture(0, nil, "acme")
	f.pool.err = jascrapers.ErrShuttingDown
	j := f.create(t, "acme", 3)

	f.scan(t)

	got := f.get(t, j.ID)
	if got.State != job.StateRetrying {
		t.Fatalf("state = %s, want retrying", got.State)
	}
	if n := f.caps.ActiveTotal(); n != 0 {
		t.Errorf("ActiveTotal() = %d, slot should be released", n)
	}
}

func TestScheduler_WakeTriggersScan(t *testing.T) {
	f := newFixture(0, nil, "acme")
	if err := f.sched.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = f.sched.Stop(context.Background()) }()

	// Let the initial scan run against an empty store.
	time.Sleep(20 * time.Millisecond)
	f.create(t, "acme", 3)
	f.sched.Wake()

	deadline := time.Now().Add(5 * time.Second)
	for len(f.pool.dispatched()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("woken scheduler never dispatched the job")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	f := newFixture(0, nil, "acme")
	ctx := context.Background()
	if err := f.sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.sched.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.sched.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
