package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/backoff"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/cron"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/engine"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	memsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type testEngine struct {
	*engine.Engine
	sink *memsink.Sink
}

func newOrchestrator(t *testing.T, opts ...jascrapers.Option) *jascrapers.Orchestrator {
	t.Helper()
	base := []jascrapers.Option{
		jascrapers.WithStore(memory.New()),
		jascrapers.WithScanInterval(10 * time.Millisecond),
		jascrapers.WithLogger(slog.Default()),
	}
	o, err := jascrapers.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("jascrapers.New: %v", err)
	}
	return o
}

// start builds and starts an engine over reg with a 1ms retry delay.
func start(t *testing.T, reg *supplier.Registry, opts ...jascrapers.Option) *testEngine {
	t.Helper()
	sk := memsink.New()
	eng, err := engine.Build(newOrchestrator(t, opts...), reg,
		engine.WithSink(sk),
		engine.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return &testEngine{Engine: eng, sink: sk}
}

func registry(t *testing.T, d supplier.Descriptor, a supplier.Adapter) *supplier.Registry {
	t.Helper()
	reg := supplier.NewRegistry()
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if err := reg.Register(d, a); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func (e *testEngine) submit(t *testing.T, supplierName string) *job.Job {
	t.Helper()
	j, created, err := e.Submit(context.Background(), supplierName, map[string]string{"part": "AN3-5A"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created {
		t.Fatal("expected a new job")
	}
	return j
}

func (e *testEngine) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := e.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return j
}

// waitFor polls until the job reaches one of states.
func (e *testEngine) waitFor(t *testing.T, jobID id.JobID, states ...job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		j := e.get(t, jobID)
		if slices.Contains(states, j.State) {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want one of %v", jobID, j.State, states)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func quote(part, price string, at time.Time) supplier.RawRecord {
	return supplier.RawRecord{
		Fields:     map[string]any{"part": part, "price": price, "qty": "10"},
		ObservedAt: at,
	}
}

func fixed(records ...supplier.RawRecord) supplier.Adapter {
	return supplier.AdapterFunc(func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
		return records, nil
	})
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStoreAndSink(t *testing.T) {
	o, err := jascrapers.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(o, supplier.NewRegistry(), engine.WithSink(memsink.New())); !errors.Is(err, jascrapers.ErrNoStore) {
		t.Errorf("expected ErrNoStore, got %v", err)
	}
	if _, err := engine.Build(newOrchestrator(t), supplier.NewRegistry()); !errors.Is(err, jascrapers.ErrNoSink) {
		t.Errorf("expected ErrNoSink, got %v", err)
	}
}

func TestBuild_SealsRegistry(t *testing.T) {
	reg := registry(t, supplier.Descriptor{Name: "acme"}, fixed())
	if _, err := engine.Build(newOrchestrator(t), reg, engine.WithSink(memsink.New())); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := reg.Register(supplier.Descriptor{Name: "late"}, fixed()); !errors.Is(err, jascrapers.ErrRegistrySealed) {
		t.Errorf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestBuild_RejectsCronForUnknownSupplier(t *testing.T) {
	reg := registry(t, supplier.Descriptor{Name: "acme"}, fixed())
	_, err := engine.Build(newOrchestrator(t), reg,
		engine.WithSink(memsink.New()),
		engine.WithCron(cron.Entry{Name: "nightly", Schedule: "@daily", Supplier: "boeing"}),
	)
	if !errors.Is(err, jascrapers.ErrUnknownSupplier) {
		t.Errorf("expected ErrUnknownSupplier, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Submit
// ──────────────────────────────────────────────────

type partValidator struct{ supplier.AdapterFunc }

func (partValidator) ValidateParameters(params map[string]string) error {
	if params["part"] == "" {
		return errors.New("part is required")
	}
	return nil
}

func TestSubmit_RejectsInvalidRequests(t *testing.T) {
	reg := registry(t, supplier.Descriptor{Name: "acme"}, partValidator{})
	eng := start(t, reg)
	ctx := context.Background()

	_, _, err := eng.Submit(ctx, "boeing", nil, "")
	if !errors.Is(err, jascrapers.ErrInvalidParameters) || !errors.Is(err, jascrapers.ErrUnknownSupplier) {
		t.Errorf("unknown supplier: got %v", err)
	}
	_, _, err = eng.Submit(ctx, "acme", map[string]string{}, "")
	if !errors.Is(err, jascrapers.ErrInvalidParameters) {
		t.Errorf("rejected parameters: got %v", err)
	}

	stats, err := eng.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("rejected submissions created %d jobs", stats.Total)
	}
}

func TestSubmit_IdempotencyKey(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	reg := registry(t, supplier.Descriptor{Name: "acme"}, supplier.AdapterFunc(
		func(ctx context.Context, _ map[string]string) ([]supplier.RawRecord, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}))
	eng := start(t, reg)
	ctx := context.Background()
	params := map[string]string{"part": "AN3-5A"}

	first, created, err := eng.Submit(ctx, "acme", params, "req-1")
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}
	again, created, err := eng.Submit(ctx, "acme", map[string]string{"part": "AN3-5A"}, "req-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if created || again.ID.String() != first.ID.String() {
		t.Errorf("replay should return the original job, got %s (created=%v)", again.ID, created)
	}

	_, _, err = eng.Submit(ctx, "acme", map[string]string{"part": "MS21042L3"}, "req-1")
	if !errors.Is(err, jascrapers.ErrIdempotencyMismatch) {
		t.Errorf("expected ErrIdempotencyMismatch, got %v", err)
	}
}

func TestSubmit_ConcurrentSameKeyCreatesOneJob(t *testing.T) {
	reg := registry(t, supplier.Descriptor{Name: "acme"}, fixed(quote("A", "1", time.Now())))
	eng := start(t, reg)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, _, err := eng.Submit(context.Background(), "acme", map[string]string{"part": "A"}, "same-key")
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			ids[i] = j.ID.String()
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("submissions with one key produced different jobs: %v", ids)
		}
	}
}

// ──────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────

// A second job for a supplier capped at one stays pending until the first
// finishes.
func TestScenarioA_SupplierCapHoldsSecondJob(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	reg := registry(t, supplier.Descriptor{Name: "acme", MaxConcurrency: 1}, supplier.AdapterFunc(
		func(ctx context.Context, _ map[string]string) ([]supplier.RawRecord, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return []supplier.RawRecord{quote("AN3-5A", "0.40", time.Now())}, nil
		}))
	eng := start(t, reg)

	first := eng.submit(t, "acme")
	second := eng.submit(t, "acme")
	<-started
	eng.waitFor(t, first.ID, job.StateRunning)

	time.Sleep(50 * time.Millisecond)
	if got := eng.get(t, second.ID); got.State != job.StatePending {
		t.Fatalf("second job is %s while the first runs, want pending", got.State)
	}

	close(release)
	a := eng.waitFor(t, first.ID, job.StateSucceeded)
	b := eng.waitFor(t, second.ID, job.StateSucceeded)
	if b.StartedAt.Before(*a.FinishedAt) {
		t.Errorf("second job started at %v before the first finished at %v", b.StartedAt, a.FinishedAt)
	}
}

// Two transient failures then success take three attempts.
func TestScenarioB_TransientFailuresThenSuccess(t *testing.T) {
	var calls atomic.Int32
	reg := registry(t, supplier.Descriptor{Name: "acme"}, supplier.AdapterFunc(
		func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
			if calls.Add(1) <= 2 {
				return nil, jascrapers.Transient(errors.New("503 service unavailable"))
			}
			return []supplier.RawRecord{quote("AN3-5A", "0.40", time.Now())}, nil
		}))
	eng := start(t, reg, jascrapers.WithMaxRetries(3))

	j := eng.waitFor(t, eng.submit(t, "acme").ID, job.StateSucceeded, job.StateFailed)
	if j.State != job.StateSucceeded {
		t.Fatalf("state = %s, last error %+v", j.State, j.LastError)
	}
	if j.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", j.AttemptCount)
	}
	if j.LastError != nil {
		t.Errorf("LastError should be cleared on success, got %+v", j.LastError)
	}
}

// A permanent failure goes straight from running to failed.
func TestScenarioC_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	reg := registry(t, supplier.Descriptor{Name: "acme"}, supplier.AdapterFunc(
		func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
			calls.Add(1)
			return nil, jascrapers.Permanent(errors.New("401 unauthorized"))
		}))
	eng := start(t, reg, jascrapers.WithMaxRetries(3))

	j := eng.waitFor(t, eng.submit(t, "acme").ID, job.StateFailed, job.StateSucceeded)
	if j.State != job.StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
	if j.AttemptCount != 1 || calls.Load() != 1 {
		t.Errorf("attempts = %d, adapter calls = %d, want 1 and 1", j.AttemptCount, calls.Load())
	}
	if j.LastError == nil || j.LastError.Class != jascrapers.ClassPermanent {
		t.Errorf("unexpected last error: %+v", j.LastError)
	}
}

// The later observation of a duplicated key wins.
func TestScenarioD_LaterObservationWins(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reg := registry(t, supplier.Descriptor{Name: "acme"}, fixed(
		quote("A", "$10", at),
		quote("A", "$12", at.Add(time.Minute)),
	))
	eng := start(t, reg)

	j := eng.waitFor(t, eng.submit(t, "acme").ID, job.StateSucceeded)
	records, err := eng.Records(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if !records[0].Price.Equal(decimal.NewFromInt(12)) {
		t.Errorf("price = %s, want 12", records[0].Price)
	}
	if j.RecordCount != 1 || j.DroppedCount != 0 {
		t.Errorf("RecordCount=%d DroppedCount=%d", j.RecordCount, j.DroppedCount)
	}
}

// A job cancelled while running ends cancelled and stays there.
func TestScenarioE_CancelRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	returned := make(chan struct{})
	reg := registry(t, supplier.Descriptor{Name: "acme"}, supplier.AdapterFunc(
		func(ctx context.Context, _ map[string]string) ([]supplier.RawRecord, error) {
			defer close(returned)
			started <- struct{}{}
			<-ctx.Done()
			// Ignores cancellation and returns data anyway.
			return []supplier.RawRecord{quote("AN3-5A", "0.40", time.Now())}, nil
		}))
	eng := start(t, reg)
	ctx := context.Background()

	j := eng.submit(t, "acme")
	<-started
	eng.waitFor(t, j.ID, job.StateRunning)

	cancelled, err := eng.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != job.StateCancelled {
		t.Fatalf("state = %s, want cancelled", cancelled.State)
	}

	<-returned
	time.Sleep(50 * time.Millisecond)
	if got := eng.get(t, j.ID); got.State != job.StateCancelled {
		t.Fatalf("cancelled job reverted to %s", got.State)
	}
	if n := eng.sink.Writes(j.ID); n != 0 {
		t.Errorf("cancelled job wrote %d result sets", n)
	}
	if _, err := eng.Records(ctx, j.ID); !errors.Is(err, jascrapers.ErrResultNotFound) {
		t.Errorf("expected ErrResultNotFound, got %v", err)
	}

	again, err := eng.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if again.Version != cancelled.Version {
		t.Errorf("second cancel changed the job: version %d → %d", cancelled.Version, again.Version)
	}
}

// ──────────────────────────────────────────────────
// Control and status
// ──────────────────────────────────────────────────

func TestCancel_PendingAndTerminal(t *testing.T) {
	reg := registry(t, supplier.Descriptor{Name: "acme"}, fixed(quote("A", "1", time.Now())))
	eng := start(t, reg)
	ctx := context.Background()

	done := eng.waitFor(t, eng.submit(t, "acme").ID, job.StateSucceeded)
	if _, err := eng.Cancel(ctx, done.ID); !errors.Is(err, jascrapers.ErrInvalidTransition) {
		t.Errorf("cancel succeeded job: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := eng.Cancel(ctx, id.NewJobID()); !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("cancel unknown job: expected ErrJobNotFound, got %v", err)
	}
}

func TestSupplierConcurrencyNeverExceeded(t *testing.T) {
	var inFlight, peak atomic.Int32
	reg := registry(t, supplier.Descriptor{Name: "acme", MaxConcurrency: 2}, supplier.AdapterFunc(
		func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return []supplier.RawRecord{quote("A", "1", time.Now())}, nil
		}))
	eng := start(t, reg, jascrapers.WithConcurrency(8))

	var jobs []*job.Job
	for range 10 {
		jobs = append(jobs, eng.submit(t, "acme"))
	}
	for _, j := range jobs {
		eng.waitFor(t, j.ID, job.StateSucceeded)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeded the supplier cap of 2", p)
	}
	if p := eng.Capacity().Peak("acme"); p > 2 {
		t.Errorf("capacity manager saw peak %d", p)
	}
}

func TestCountsAndList(t *testing.T) {
	reg := supplier.NewRegistry()
	_ = reg.Register(supplier.Descriptor{Name: "acme", Currency: "USD"}, fixed(quote("A", "1", time.Now())))
	_ = reg.Register(supplier.Descriptor{Name: "boeing", Currency: "USD"},
		supplier.AdapterFunc(func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
			return nil, jascrapers.Permanent(errors.New("gone"))
		}))
	eng := start(t, reg)
	ctx := context.Background()

	a1 := eng.submit(t, "acme")
	a2 := eng.submit(t, "acme")
	b1 := eng.submit(t, "boeing")
	eng.waitFor(t, a1.ID, job.StateSucceeded)
	eng.waitFor(t, a2.ID, job.StateSucceeded)
	eng.waitFor(t, b1.ID, job.StateFailed)

	stats, err := eng.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if stats.Total != 3 || stats.ByState[job.StateSucceeded] != 2 || stats.ByState[job.StateFailed] != 1 {
		t.Errorf("unexpected state counts: %+v", stats.ByState)
	}
	if stats.BySupplier["acme"] != 2 || stats.BySupplier["boeing"] != 1 {
		t.Errorf("unexpected supplier counts: %+v", stats.BySupplier)
	}

	listed, err := eng.List(ctx, job.ListOpts{Supplier: "acme"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 || listed[0].ID.String() != a1.ID.String() {
		t.Errorf("List returned %d jobs in unexpected order", len(listed))
	}
	limited, err := eng.List(ctx, job.ListOpts{}, 1)
	if err != nil {
		t.Fatalf("List with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d jobs", len(limited))
	}

	if err := eng.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if n := len(eng.Suppliers()); n != 2 {
		t.Errorf("Suppliers() returned %d descriptors", n)
	}
}

func TestStop_RequeuesRunningJob(t *testing.T) {
	started := make(chan struct{}, 1)
	reg := registry(t, supplier.Descriptor{Name: "acme"}, supplier.AdapterFunc(
		func(ctx context.Context, _ map[string]string) ([]supplier.RawRecord, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}))
	store := memory.New()
	sk := memsink.New()
	eng, err := engine.Build(newOrchestrator(t, jascrapers.WithStore(store)), reg, engine.WithSink(sk))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	j, _, err := eng.Submit(ctx, "acme", nil, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, err := store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateRetrying {
		t.Errorf("state after shutdown = %s, want retrying", got.State)
	}
}
