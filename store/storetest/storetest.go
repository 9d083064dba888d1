// Package storetest is a conformance suite for job.Store backends. Every
// backend test file calls Run with a factory for empty stores.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) job.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"IdempotencyKey", testIdempotencyKey},
		{"ListOrderedAndRestartable", testListOrderedAndRestartable},
		{"TransitionLifecycle", testTransitionLifecycle},
		{"StaleVersionConflicts", testStaleVersionConflicts},
		{"ConcurrentTransitionsOneWinner", testConcurrentTransitionsOneWinner},
		{"AttemptBudget", testAttemptBudget},
		{"EligibleAndNextRunAt", testEligibleAndNextRunAt},
		{"EligibleInCreationOrder", testEligibleInCreationOrder},
		{"Leases", testLeases},
		{"CountsAndTally", testCountsAndTally},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// newJob builds a pending job with microsecond timestamps so every backend
// round-trips them exactly.
func newJob(supplier string, created time.Time) *job.Job {
	j := job.New(supplier, map[string]string{"part": "MS21042L3", "qty": "10"}, 3)
	created = created.UTC().Truncate(time.Microsecond)
	j.CreatedAt, j.UpdatedAt, j.RunAt = created, created, created
	return j
}

func mustCreate(t *testing.T, s job.Store, j *job.Job) *job.Job {
	t.Helper()
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func mustTransition(t *testing.T, s job.Store, tr job.Transition) *job.Job {
	t.Helper()
	j, err := s.Transition(context.Background(), tr)
	if err != nil {
		t.Fatalf("Transition %s: %v", tr.To, err)
	}
	return j
}

func claim(t *testing.T, s job.Store, j *job.Job, worker id.WorkerID, lease time.Time) *job.Job {
	t.Helper()
	return mustTransition(t, s, job.Transition{
		JobID: j.ID, Version: j.Version, To: job.StateRunning,
		WorkerID: worker, LeaseUntil: lease,
	})
}

func near(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

func testCreateAndGet(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := mustCreate(t, s, newJob("acme", time.Now()))

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() || got.Supplier != "acme" {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Parameters["part"] != "MS21042L3" || got.Parameters["qty"] != "10" {
		t.Errorf("parameters not round-tripped: %v", got.Parameters)
	}
	if got.State != job.StatePending || got.Version != 1 || got.AttemptCount != 0 {
		t.Errorf("unexpected initial state: state=%s version=%d attempts=%d", got.State, got.Version, got.AttemptCount)
	}
	if got.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", got.MaxRetries)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, j.CreatedAt)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("GetJob(unknown): expected ErrJobNotFound, got %v", err)
	}
	_, err = s.Transition(ctx, job.Transition{JobID: id.NewJobID(), To: job.StateCancelled})
	if !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("Transition(unknown): expected ErrJobNotFound, got %v", err)
	}
}

func testIdempotencyKey(t *testing.T, s job.Store) {
	ctx := context.Background()
	first := newJob("acme", time.Now())
	first.IdempotencyKey = "rfq-42"
	mustCreate(t, s, first)

	second := newJob("acme", time.Now())
	second.IdempotencyKey = "rfq-42"
	if err := s.CreateJob(ctx, second); !errors.Is(err, jascrapers.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	got, err := s.FindByIdempotencyKey(ctx, "rfq-42")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if got.ID.String() != first.ID.String() {
		t.Errorf("found %s, want %s", got.ID, first.ID)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "rfq-unknown"); !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func testListOrderedAndRestartable(t *testing.T, s job.Store) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	var want []*job.Job
	for i := range 5 {
		supplier := "acme"
		if i%2 == 1 {
			supplier = "boeing-surplus"
		}
		want = append(want, mustCreate(t, s, newJob(supplier, base.Add(time.Duration(i)*time.Millisecond))))
	}

	seq := s.ListJobs(ctx, job.ListOpts{PageSize: 2})
	for round := range 2 {
		got, err := job.Collect(seq)
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if len(got) != len(want) {
			t.Fatalf("round %d: got %d jobs, want %d", round, len(got), len(want))
		}
		for i := range got {
			if got[i].ID.String() != want[i].ID.String() {
				t.Fatalf("round %d: position %d is %s, want %s", round, i, got[i].ID, want[i].ID)
			}
		}
	}

	bySupplier, err := job.Collect(s.ListJobs(ctx, job.ListOpts{Supplier: "boeing-surplus", PageSize: 1}))
	if err != nil {
		t.Fatalf("list by supplier: %v", err)
	}
	if len(bySupplier) != 2 || bySupplier[0].ID.String() != want[1].ID.String() {
		t.Errorf("supplier filter returned %d jobs", len(bySupplier))
	}

	mustTransition(t, s, job.Transition{JobID: want[2].ID, To: job.StateCancelled})
	cancelled, err := job.Collect(s.ListJobs(ctx, job.ListOpts{State: job.StateCancelled}))
	if err != nil {
		t.Fatalf("list by state: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID.String() != want[2].ID.String() {
		t.Errorf("state filter returned %d jobs", len(cancelled))
	}

	// Stopping early must not error.
	for range s.ListJobs(ctx, job.ListOpts{PageSize: 2}) {
		break
	}
}

func testTransitionLifecycle(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := mustCreate(t, s, newJob("acme", time.Now()))
	worker := id.NewWorkerID()

	running := claim(t, s, j, worker, time.Now().Add(time.Minute))
	if running.State != job.StateRunning || running.AttemptCount != 1 || running.Version != 2 {
		t.Fatalf("after claim: state=%s attempts=%d version=%d", running.State, running.AttemptCount, running.Version)
	}
	if running.WorkerID.String() != worker.String() || running.LeaseExpiresAt == nil {
		t.Fatal("claim did not record the lease")
	}
	if !running.UpdatedAt.After(j.UpdatedAt) && !running.UpdatedAt.Equal(j.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}

	done := mustTransition(t, s, job.Transition{
		JobID: j.ID, Version: running.Version, To: job.StateSucceeded,
		ResultRef: "memory://" + j.ID.String(), RecordCount: 7, DroppedCount: 2,
	})
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateSucceeded || got.ResultRef != done.ResultRef {
		t.Errorf("succeeded job not persisted: %+v", got)
	}
	if got.RecordCount != 7 || got.DroppedCount != 2 {
		t.Errorf("counts = %d/%d, want 7/2", got.RecordCount, got.DroppedCount)
	}
	if got.LeaseExpiresAt != nil || !got.WorkerID.IsNil() || got.FinishedAt == nil {
		t.Error("terminal job should have no lease and a finish time")
	}

	for _, to := range job.States {
		_, err := s.Transition(ctx, job.Transition{JobID: j.ID, To: to})
		if !errors.Is(err, jascrapers.ErrInvalidTransition) {
			t.Errorf("succeeded → %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}
}

func testStaleVersionConflicts(t *testing.T, s job.Store) {
	j := mustCreate(t, s, newJob("acme", time.Now()))
	_, err := s.Transition(context.Background(), job.Transition{JobID: j.ID, Version: j.Version + 5, To: job.StateCancelled})
	if !errors.Is(err, jascrapers.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func testConcurrentTransitionsOneWinner(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := mustCreate(t, s, newJob("acme", time.Now()))
	running := claim(t, s, j, id.NewWorkerID(), time.Now().Add(time.Minute))

	targets := []job.State{
		job.StateSucceeded, job.StateFailed, job.StateCancelled, job.StateRetrying,
		job.StateSucceeded, job.StateFailed, job.StateCancelled, job.StateRetrying,
	}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Transition(ctx, job.Transition{JobID: j.ID, Version: running.Version, To: to})
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, jascrapers.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Version != running.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, running.Version+1)
	}
}

func testAttemptBudget(t *testing.T, s job.Store) {
	ctx := context.Background()
	j := newJob("acme", time.Now())
	j.MaxRetries = 1
	mustCreate(t, s, j)

	cur := j
	for range 2 {
		cur = claim(t, s, cur, id.NewWorkerID(), time.Now().Add(time.Minute))
		cur = mustTransition(t, s, job.Transition{
			JobID: j.ID, Version: cur.Version, To: job.StateRetrying,
			Failure: &job.Failure{Class: jascrapers.ClassTransient, Message: "timeout", Attempt: cur.AttemptCount},
			RunAt:   time.Now(),
		})
	}

	_, err := s.Transition(ctx, job.Transition{JobID: j.ID, Version: cur.Version, To: job.StateRunning})
	if !errors.Is(err, jascrapers.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.AttemptCount != 2 || got.State != job.StateRetrying {
		t.Errorf("attempts=%d state=%s, want 2 retrying", got.AttemptCount, got.State)
	}
	if got.LastError == nil || got.LastError.Class != jascrapers.ClassTransient || got.LastError.Message != "timeout" {
		t.Errorf("last error not persisted: %+v", got.LastError)
	}
}

func testEligibleAndNextRunAt(t *testing.T, s job.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	pending := mustCreate(t, s, newJob("acme", now.Add(-time.Minute)))
	due := mustCreate(t, s, newJob("acme", now.Add(-2*time.Minute)))
	later := mustCreate(t, s, newJob("acme", now.Add(-3*time.Minute)))
	busy := mustCreate(t, s, newJob("acme", now.Add(-4*time.Minute)))
	mustCreate(t, s, newJob("other", now.Add(-5*time.Minute)))

	retry := func(j *job.Job, runAt time.Time) {
		c := claim(t, s, j, id.NewWorkerID(), now.Add(time.Minute))
		mustTransition(t, s, job.Transition{
			JobID: j.ID, Version: c.Version, To: job.StateRetrying,
			Failure: &job.Failure{Class: jascrapers.ClassTransient}, RunAt: runAt,
		})
	}
	retry(due, now.Add(-2*time.Hour))
	laterAt := now.Add(time.Hour)
	retry(later, laterAt)
	claim(t, s, busy, id.NewWorkerID(), now.Add(time.Minute))

	got, err := s.ListEligible(ctx, "acme", now, 10)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d eligible jobs, want 2", len(got))
	}
	if got[0].ID.String() != due.ID.String() || got[1].ID.String() != pending.ID.String() {
		t.Errorf("eligible order = [%s %s], want due retry then pending", got[0].ID, got[1].ID)
	}

	limited, err := s.ListEligible(ctx, "acme", now, 1)
	if err != nil {
		t.Fatalf("ListEligible(limit 1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d", len(limited))
	}

	next, err := s.NextRunAt(ctx, now)
	if err != nil {
		t.Fatalf("NextRunAt: %v", err)
	}
	if !near(next, laterAt) {
		t.Errorf("NextRunAt = %v, want %v", next, laterAt)
	}

	none, err := s.NextRunAt(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("NextRunAt: %v", err)
	}
	if !none.IsZero() {
		t.Errorf("NextRunAt after every deadline = %v, want zero", none)
	}
}

func testEligibleInCreationOrder(t *testing.T, s job.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	older := mustCreate(t, s, newJob("acme", now.Add(-10*time.Minute)))
	newer := mustCreate(t, s, newJob("acme", now.Add(-5*time.Minute)))

	// The older job's backoff came due after the newer job was queued.
	c := claim(t, s, older, id.NewWorkerID(), now.Add(time.Minute))
	mustTransition(t, s, job.Transition{
		JobID: older.ID, Version: c.Version, To: job.StateRetrying,
		Failure: &job.Failure{Class: jascrapers.ClassTransient}, RunAt: now.Add(-time.Second),
	})

	got, err := s.ListEligible(ctx, "acme", now, 1)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != older.ID.String() {
		t.Fatalf("first eligible job should be the oldest (%s)", older.ID)
	}

	all, err := s.ListEligible(ctx, "acme", now, 0)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(all) != 2 || all[1].ID.String() != newer.ID.String() {
		t.Errorf("eligible jobs not in creation order: got %d jobs", len(all))
	}
}

func testLeases(t *testing.T, s job.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	worker := id.NewWorkerID()

	j := mustCreate(t, s, newJob("acme", now))
	running := claim(t, s, j, worker, now.Add(-time.Second))
	healthy := mustCreate(t, s, newJob("acme", now))
	claim(t, s, healthy, id.NewWorkerID(), now.Add(time.Hour))

	expired, err := s.ExpiredLeases(ctx, now, 10)
	if err != nil {
		t.Fatalf("ExpiredLeases: %v", err)
	}
	if len(expired) != 1 || expired[0].ID.String() != j.ID.String() {
		t.Fatalf("expected only the lapsed job, got %d", len(expired))
	}

	if err := s.RenewLease(ctx, j.ID, id.NewWorkerID(), running.Version, now.Add(time.Minute)); !errors.Is(err, jascrapers.ErrConflict) {
		t.Errorf("renew by another worker: expected ErrConflict, got %v", err)
	}
	if err := s.RenewLease(ctx, j.ID, worker, running.Version+1, now.Add(time.Minute)); !errors.Is(err, jascrapers.ErrConflict) {
		t.Errorf("renew with stale version: expected ErrConflict, got %v", err)
	}
	if err := s.RenewLease(ctx, id.NewJobID(), worker, 1, now.Add(time.Minute)); !errors.Is(err, jascrapers.ErrJobNotFound) {
		t.Errorf("renew unknown job: expected ErrJobNotFound, got %v", err)
	}
	if err := s.RenewLease(ctx, j.ID, worker, running.Version, now.Add(time.Minute)); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}

	expired, err = s.ExpiredLeases(ctx, now, 10)
	if err != nil {
		t.Fatalf("ExpiredLeases: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("renewed lease still reported expired")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Version != running.Version {
		t.Errorf("RenewLease must not bump the version: %d → %d", running.Version, got.Version)
	}
}

func testCountsAndTally(t *testing.T, s job.Store) {
	ctx := context.Background()
	now := time.Now()
	for range 3 {
		mustCreate(t, s, newJob("acme", now))
	}
	c := mustCreate(t, s, newJob("acme", now))
	mustTransition(t, s, job.Transition{JobID: c.ID, To: job.StateCancelled})
	mustCreate(t, s, newJob("boeing-surplus", now))

	count := func(opts job.CountOpts) int64 {
		t.Helper()
		n, err := s.CountJobs(ctx, opts)
		if err != nil {
			t.Fatalf("CountJobs: %v", err)
		}
		return n
	}
	if n := count(job.CountOpts{}); n != 5 {
		t.Errorf("total = %d, want 5", n)
	}
	if n := count(job.CountOpts{Supplier: "acme"}); n != 4 {
		t.Errorf("acme = %d, want 4", n)
	}
	if n := count(job.CountOpts{Supplier: "acme", State: job.StatePending}); n != 3 {
		t.Errorf("acme pending = %d, want 3", n)
	}
	if n := count(job.CountOpts{State: job.StateCancelled}); n != 1 {
		t.Errorf("cancelled = %d, want 1", n)
	}

	tally, err := s.Tally(ctx)
	if err != nil {
		t.Fatalf("Tally: %v", err)
	}
	got := make(map[string]int64)
	for _, row := range tally {
		got[row.Supplier+"/"+string(row.State)] = row.Count
	}
	want := map[string]int64{
		"acme/pending":           3,
		"acme/cancelled":         1,
		"boeing-surplus/pending": 1,
	}
	if len(got) != len(want) {
		t.Errorf("tally = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("tally[%s] = %d, want %d", k, got[k], n)
		}
	}
}
