package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

func (e *allHooksExt) OnJobRetrying(_ context.Context, _ *job.Job, _ *job.Failure, _ time.Time) error {
	e.calls = append(e.calls, "OnJobRetrying")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ *job.Failure) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnLeaseReclaimed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnLeaseReclaimed")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.JobID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// submitOnlyExt only implements submission and success hooks.
type submitOnlyExt struct {
	calls []string
}

func (e *submitOnlyExt) Name() string { return "submit-only" }

func (e *submitOnlyExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

func (e *submitOnlyExt) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobSucceeded")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func testFailure() *job.Failure {
	return job.NewFailure(jascrapers.Transient(errors.New("socket closed")), 1)
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	so := &submitOnlyExt{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	j := job.New("acme", nil, 3)

	r.EmitJobSubmitted(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected [OnJobSubmitted], got %v", all.calls)
	}
	if len(so.calls) != 1 || so.calls[0] != "OnJobSubmitted" {
		t.Fatalf("so: expected [OnJobSubmitted], got %v", so.calls)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(so.calls) != 1 {
		t.Fatalf("so: should still have 1 call, got %v", so.calls)
	}
}

func TestRegistry_AllJobHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := job.New("acme", nil, 3)

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, testFailure(), time.Now())
	r.EmitJobFailed(ctx, j, testFailure())
	r.EmitJobCancelled(ctx, j)
	r.EmitLeaseReclaimed(ctx, j)

	expected := []string{
		"OnJobSubmitted", "OnJobStarted", "OnJobSucceeded",
		"OnJobRetrying", "OnJobFailed", "OnJobCancelled", "OnLeaseReclaimed",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_CronAndShutdownHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitCronFired(ctx, "nightly-acme", id.NewJobID())
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %v", len(all.calls), all.calls)
	}
	if all.calls[0] != "OnCronFired" {
		t.Errorf("call[0] = %q, want OnCronFired", all.calls[0])
	}
	if all.calls[1] != "OnShutdown" {
		t.Errorf("call[1] = %q, want OnShutdown", all.calls[1])
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobSubmitted(ctx, job.New("acme", nil, 3))
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnJobSubmitted" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()
	j := &job.Job{}

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSucceeded(ctx, j, time.Second)
	r.EmitJobRetrying(ctx, j, testFailure(), time.Now())
	r.EmitJobFailed(ctx, j, testFailure())
	r.EmitJobCancelled(ctx, j)
	r.EmitLeaseReclaimed(ctx, j)
	r.EmitCronFired(ctx, "test", id.NewJobID())
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(orderExt{"first", &order})
	r.Register(orderExt{"second", &order})

	r.EmitJobCancelled(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e orderExt) Name() string { return e.name }

func (e orderExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
