package worker_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/backoff"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/middleware"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	memsink "github.com/Joy-Aviation/Joy-Aviation-Supplies/sink/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/store/memory"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/worker"
)

type harness struct {
	store    *memory.Store
	sink     *memsink.Sink
	executor *worker.Executor
	pool     *worker.Pool
}

func newHarness(t *testing.T, adapters map[string]supplier.Adapter, poolOpts ...worker.PoolOption) *harness {
	t.Helper()
	logger := slog.Default()

	reg := supplier.NewRegistry()
	for name, a := range adapters {
		if err := reg.Register(supplier.Descriptor{Name: name, MaxConcurrency: 1, Currency: "USD"}, a); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	h := &harness{store: memory.New(), sink: memsink.New()}
	extensions := ext.NewRegistry(logger)
	h.executor = worker.NewExecutor(reg, normalize.New(), h.sink, h.store, extensions, logger,
		worker.WithBackoff(backoff.NewConstant(time.Minute)),
		worker.WithMiddleware(middleware.Recover(logger)),
		worker.WithDataQualityRetries(1),
	)
	opts := append([]worker.PoolOption{worker.WithLease(time.Minute, 0)}, poolOpts...)
	h.pool = worker.NewPool(h.store, h.executor, extensions, logger, opts...)
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start pool: %v", err)
	}
	t.Cleanup(func() { _ = h.pool.Stop(context.Background()) })
	return h
}

// submit creates a pending job and claims it for the harness pool.
func (h *harness) submit(t *testing.T, supplierName string, maxRetries int) *job.Job {
	t.Helper()
	j := job.New(supplierName, map[string]string{"part": "MS21042L3"}, maxRetries)
	if err := h.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	return h.claim(t, j, time.Now().Add(time.Minute))
}

func (h *harness) claim(t *testing.T, j *job.Job, lease time.Time) *job.Job {
	t.Helper()
	claimed, err := h.store.Transition(context.Background(), job.Transition{
		JobID: j.ID, Version: j.Version, To: job.StateRunning,
		WorkerID: h.pool.WorkerID(), LeaseUntil: lease,
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return claimed
}

// execute runs one attempt synchronously.
func (h *harness) execute(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	if _, err := h.executor.Execute(context.Background(), j); err != nil {
		t.Fatalf("execute: %v", err)
	}
	return h.get(t, j)
}

// dispatch runs j on the pool and returns a channel closed when the attempt
// has been recorded.
func (h *harness) dispatch(t *testing.T, j *job.Job) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	if err := h.pool.Dispatch(j, func() { close(done) }); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return done
}

func (h *harness) get(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	got, err := h.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job attempt")
	}
}

func quote(part, price string) supplier.RawRecord {
	return supplier.RawRecord{
		Fields:     map[string]any{"part_id": part, "price": price, "qty": "100"},
		ObservedAt: time.Now().UTC(),
	}
}

func fixed(records ...supplier.RawRecord) supplier.Adapter {
	return supplier.AdapterFunc(func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
		return records, nil
	})
}

func failing(err error) supplier.Adapter {
	return supplier.AdapterFunc(func(context.Context, map[string]string) ([]supplier.RawRecord, error) {
		return nil, err
	})
}
