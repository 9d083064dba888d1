package cron_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/cron"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// stubEmitter records EmitCronFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, _ id.JobID) {
	e.mu.Lock()
	e.names = append(e.names, entryName)
	e.mu.Unlock()
}

func (e *stubEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.names)
}

// submitSpy dedups on idempotency key the way the engine does.
type submitSpy struct {
	mu    sync.Mutex
	keys  []string
	jobs  map[string]*job.Job
	err   error
	calls int
}

func newSubmitSpy() *submitSpy { return &submitSpy{jobs: make(map[string]*job.Job)} }

func (s *submitSpy) Fn() cron.SubmitFunc {
	return func(_ context.Context, supplier string, params map[string]string, key string) (*job.Job, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		if s.err != nil {
			return nil, s.err
		}
		if j, ok := s.jobs[key]; ok {
			return j, nil
		}
		j := job.New(supplier, params, 3)
		j.IdempotencyKey = key
		s.jobs[key] = j
		s.keys = append(s.keys, key)
		return j, nil
	}
}

func (s *submitSpy) created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func hourly() []cron.Entry {
	return []cron.Entry{{
		Name:       "acme-hourly",
		Schedule:   "@hourly",
		Supplier:   "acme",
		Parameters: map[string]string{"part": "AN3-5A"},
	}}
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 6 * * 1-5", "@hourly", "@every 30m"} {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
	if _, err := cron.ParseSchedule("every tuesday"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestNewScheduler_RejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []cron.Entry
	}{
		{"missing name", []cron.Entry{{Schedule: "@hourly", Supplier: "acme"}}},
		{"missing supplier", []cron.Entry{{Name: "x", Schedule: "@hourly"}}},
		{"bad schedule", []cron.Entry{{Name: "x", Schedule: "sometimes", Supplier: "acme"}}},
		{"duplicate", []cron.Entry{
			{Name: "x", Schedule: "@hourly", Supplier: "acme"},
			{Name: "x", Schedule: "@daily", Supplier: "acme"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cron.NewScheduler(tt.entries, newSubmitSpy().Fn(), nil, slog.Default()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	e := cron.Entry{Name: "daily"}
	if got, want := e.IdempotencyKey(at), fmt.Sprintf("cron:daily:%d", at.Unix()); got != want {
		t.Errorf("IdempotencyKey = %q, want %q", got, want)
	}
}

func TestTick_FiresDueEntriesOnce(t *testing.T) {
	spy := newSubmitSpy()
	em := &stubEmitter{}
	s, err := cron.NewScheduler(hourly(), spy.Fn(), em, slog.Default())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	next := s.Entries()["acme-hourly"]

	ctx := context.Background()
	s.Tick(ctx, next.Add(-time.Second))
	if n := len(spy.created()); n != 0 {
		t.Fatalf("fired %d jobs before the entry was due", n)
	}

	s.Tick(ctx, next.Add(time.Second))
	s.Tick(ctx, next.Add(2*time.Second))

	keys := spy.created()
	if len(keys) != 1 {
		t.Fatalf("expected exactly one job, got %v", keys)
	}
	if want := hourly()[0].IdempotencyKey(next); keys[0] != want {
		t.Errorf("key = %q, want %q", keys[0], want)
	}
	if em.count() != 1 {
		t.Errorf("expected 1 cron-fired event, got %d", em.count())
	}
	if got := s.Entries()["acme-hourly"]; !got.Equal(next.Add(time.Hour)) {
		t.Errorf("next firing = %v, want %v", got, next.Add(time.Hour))
	}
}

func TestTick_MissedFiringsCollapse(t *testing.T) {
	spy := newSubmitSpy()
	s, err := cron.NewScheduler(hourly(), spy.Fn(), nil, slog.Default())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	next := s.Entries()["acme-hourly"]

	s.Tick(context.Background(), next.Add(5*time.Hour+time.Minute))

	if n := len(spy.created()); n != 1 {
		t.Fatalf("expected missed firings to collapse into one job, got %d", n)
	}
	if got := s.Entries()["acme-hourly"]; !got.Equal(next.Add(6 * time.Hour)) {
		t.Errorf("next firing = %v, want %v", got, next.Add(6*time.Hour))
	}
}

func TestTick_RetriesFailedSubmitWithSameKey(t *testing.T) {
	spy := newSubmitSpy()
	spy.err = errors.New("store unavailable")
	s, err := cron.NewScheduler(hourly(), spy.Fn(), nil, slog.Default())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	next := s.Entries()["acme-hourly"]
	ctx := context.Background()

	s.Tick(ctx, next.Add(time.Second))
	if got := s.Entries()["acme-hourly"]; !got.Equal(next) {
		t.Fatalf("failed firing should stay due, next = %v", got)
	}

	spy.mu.Lock()
	spy.err = nil
	spy.mu.Unlock()
	s.Tick(ctx, next.Add(2*time.Second))

	keys := spy.created()
	if len(keys) != 1 || keys[0] != hourly()[0].IdempotencyKey(next) {
		t.Errorf("retry should reuse the scheduled key, got %v", keys)
	}
}

func TestTick_InvalidSubmissionSkipsFiring(t *testing.T) {
	spy := newSubmitSpy()
	spy.err = fmt.Errorf("%w: unknown part", jascrapers.ErrInvalidParameters)
	s, err := cron.NewScheduler(hourly(), spy.Fn(), nil, slog.Default())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	next := s.Entries()["acme-hourly"]

	s.Tick(context.Background(), next.Add(time.Second))
	if got := s.Entries()["acme-hourly"]; !got.After(next) {
		t.Errorf("rejected firing should advance, next = %v", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := cron.NewScheduler(hourly(), newSubmitSpy().Fn(), nil, slog.Default(),
		cron.WithTickInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
