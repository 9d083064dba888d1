package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/capacity"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestJob(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(mw)(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_PanicIsPermanent(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := jascrapers.Classify(err); got != jascrapers.ClassPermanent {
		t.Errorf("class = %q, want %q", got, jascrapers.ClassPermanent)
	}
	if got := err.Error(); got != "adapter_permanent: panic in acme adapter: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	called := false
	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_PassesErrorThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	want := jascrapers.Transient(errors.New("fail"))

	err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	mw := middleware.Timeout(slog.Default(), func(*job.Job) time.Duration { return time.Minute })

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline")
		}
		if until := time.Until(deadline); until <= 0 || until > time.Minute {
			t.Errorf("deadline in %v, want within a minute", until)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_ZeroLeavesContext(t *testing.T) {
	mw := middleware.Timeout(slog.Default(), func(*job.Job) time.Duration { return 0 })

	_ = mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})
}

func TestTimeout_ExpiresSlowFetch(t *testing.T) {
	mw := middleware.Timeout(slog.Default(), func(*job.Job) time.Duration { return 10 * time.Millisecond })

	err := mw(context.Background(), newTestJob(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if jascrapers.Classify(err) != jascrapers.ClassTransient {
		t.Error("a timed-out fetch should classify as transient")
	}
}

func TestThrottle_WaitsForToken(t *testing.T) {
	caps := capacity.NewManager(0, capacity.Config{Supplier: "acme", MaxConcurrency: 1, RateLimit: 1000, RateBurst: 1})
	mw := middleware.Throttle(caps)

	calls := 0
	for range 3 {
		err := mw(context.Background(), newTestJob(), func(_ context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestThrottle_CancelledContextSkipsHandler(t *testing.T) {
	caps := capacity.NewManager(0, capacity.Config{Supplier: "acme", MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 1})
	mw := middleware.Throttle(caps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := mw(ctx, newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
	if called {
		t.Error("handler must not run without a token")
	}
}
