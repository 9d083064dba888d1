package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// SubmitFunc submits a job. The engine provides the implementation.
type SubmitFunc func(ctx context.Context, supplier string, params map[string]string, idempotencyKey string) (*job.Job, error)

// Emitter emits cron lifecycle events.
// ext.Registry satisfies this interface via EmitCronFired.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// scheduled is an entry with its parsed schedule and next firing time.
type scheduled struct {
	entry    Entry
	schedule cronlib.Schedule
	next     time.Time
}

// Scheduler fires entries on a tick loop.
type Scheduler struct {
	submit  SubmitFunc
	emitter Emitter
	logger  *slog.Logger

	tickInterval time.Duration

	mu      sync.Mutex
	entries []*scheduled

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler for entries. It fails if an entry has
// no name, a duplicate name, no supplier or an unparsable schedule.
func NewScheduler(
	entries []Entry,
	submit SubmitFunc,
	emitter Emitter,
	logger *slog.Logger,
	opts ...SchedulerOption,
) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		submit:       submit,
		emitter:      emitter,
		logger:       logger,
		tickInterval: 1 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := time.Now()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		switch {
		case e.Name == "":
			return nil, fmt.Errorf("cron: entry for supplier %q has no name", e.Supplier)
		case seen[e.Name]:
			return nil, fmt.Errorf("cron: duplicate entry %q", e.Name)
		case e.Supplier == "":
			return nil, fmt.Errorf("cron: entry %q has no supplier", e.Name)
		}
		seen[e.Name] = true

		sched, err := ParseSchedule(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("cron: entry %q: parse schedule %q: %w", e.Name, e.Schedule, err)
		}
		s.entries = append(s.entries, &scheduled{entry: e, schedule: sched, next: sched.Next(now)})
	}
	return s, nil
}

// Entries returns each entry with its next firing time.
func (s *Scheduler) Entries() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for _, sc := range s.entries {
		out[sc.entry.Name] = sc.next
	}
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Int("entries", len(s.entries)),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background(), time.Now())
		}
	}
}

// Tick fires every entry due at now. A firing that fails to submit is
// retried on the next tick with the same idempotency key, unless the
// submission was rejected as invalid.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*scheduled
	for _, sc := range s.entries {
		if !sc.next.After(now) {
			due = append(due, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range due {
		s.fire(ctx, sc, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc *scheduled, now time.Time) {
	s.mu.Lock()
	at := sc.next
	s.mu.Unlock()

	key := sc.entry.IdempotencyKey(at)
	j, err := s.submit(ctx, sc.entry.Supplier, sc.entry.Parameters, key)
	if err != nil {
		s.logger.Error("cron submit error",
			slog.String("cron_name", sc.entry.Name),
			slog.String("supplier", sc.entry.Supplier),
			slog.String("idempotency_key", key),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, jascrapers.ErrInvalidParameters) {
			s.advance(sc, now)
		}
		return
	}

	s.advance(sc, now)

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, sc.entry.Name, j.ID)
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", sc.entry.Name),
		slog.String("supplier", sc.entry.Supplier),
		slog.String("job_id", j.ID.String()),
		slog.Time("scheduled_at", at),
	)
}

// advance moves sc to its first firing after now. Firings missed while the
// process was busy or down collapse into the one just made.
func (s *Scheduler) advance(sc *scheduled, now time.Time) {
	s.mu.Lock()
	sc.next = sc.schedule.Next(now)
	s.mu.Unlock()
}
