// Package worker provides the job execution engine: an Executor that runs
// one attempt of a claimed job through middleware, the supplier adapter,
// the normalizer and the result sink, and a Pool that runs attempts
// concurrently, renews their leases and interrupts them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/backoff"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/middleware"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
)

// Executor runs a single attempt of a job, then records the outcome as a
// versioned transition and emits the lifecycle hooks.
type Executor struct {
	suppliers    *supplier.Registry
	normalizer   *normalize.Normalizer
	sink         sink.Sink
	store        job.Store
	extensions   *ext.Registry
	backoff      backoff.Strategy
	mw           middleware.Middleware
	dqRetries    int
	storeTimeout time.Duration
	sinkTimeout  time.Duration
	logger       *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware sets the middleware wrapped around every adapter call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithDataQualityRetries caps how many times a job whose output could not
// be normalized is retried.
func WithDataQualityRetries(n int) ExecutorOption {
	return func(e *Executor) { e.dqRetries = n }
}

// WithStoreTimeout bounds each store write made after an attempt.
func WithStoreTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.storeTimeout = d }
}

// WithSinkTimeout bounds the result sink write of each attempt.
func WithSinkTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.sinkTimeout = d
		}
	}
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	suppliers *supplier.Registry,
	normalizer *normalize.Normalizer,
	sk sink.Sink,
	store job.Store,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		suppliers:    suppliers,
		normalizer:   normalizer,
		sink:         sk,
		store:        store,
		extensions:   extensions,
		backoff:      backoff.DefaultStrategy(),
		mw:           middleware.Chain(),
		dqRetries:    1,
		storeTimeout: 10 * time.Second,
		sinkTimeout:  30 * time.Second,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one attempt of j, which must already be claimed by the
// caller (running, at j.Version). It returns the job as persisted after the
// attempt. When the attempt is abandoned because the job was cancelled or
// its lease was lost, Execute writes nothing and returns a nil job with the
// cancellation cause.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (*job.Job, error) {
	start := time.Now()

	entry, ok := e.suppliers.Lookup(j.Supplier)
	if !ok {
		return e.handleFailure(ctx, j, fmt.Errorf("%w: %q", jascrapers.ErrUnknownSupplier, j.Supplier))
	}

	var raw []supplier.RawRecord
	fetch := func(ctx context.Context) error {
		var err error
		raw, err = entry.Adapter.Fetch(ctx, j.Parameters)
		return err
	}

	fetchErr := e.mw(ctx, j, fetch)
	if stop, done, err := e.checkpoint(ctx, j); stop {
		return done, err
	}
	if fetchErr != nil {
		return e.handleFailure(ctx, j, fetchErr)
	}

	res, err := e.normalizer.Normalize(entry.Descriptor, j.ID, raw)
	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	if res.Dropped > 0 {
		e.logger.Warn("records dropped during normalization",
			slog.String("job_id", j.ID.String()),
			slog.String("supplier", j.Supplier),
			slog.Int("dropped", res.Dropped),
			slog.Any("reasons", res.DropReasons),
		)
	}

	// Last point at which a cancellation prevents the result from being
	// written.
	if stop, done, err := e.checkpoint(ctx, j); stop {
		return done, err
	}

	ref, err := e.write(ctx, j, res.Records)
	if err != nil {
		if stop, done, cerr := e.checkpoint(ctx, j); stop {
			return done, cerr
		}
		return e.handleFailure(ctx, j, fmt.Errorf("write result: %w", err))
	}

	return e.handleSuccess(ctx, j, ref, res, time.Since(start))
}

// write persists records under the sink deadline. The heartbeat keeps the
// lease alive during the write, so a stalled sink must not be waited on
// past the deadline even when it ignores its context.
func (e *Executor) write(ctx context.Context, j *job.Job, records []normalize.Record) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, e.sinkTimeout)
	defer cancel()

	type result struct {
		ref string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ref, err := e.sink.Write(wctx, j.ID, records)
		ch <- result{ref, err}
	}()

	select {
	case r := <-ch:
		return r.ref, r.err
	case <-wctx.Done():
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", fmt.Errorf("%w after %s", jascrapers.ErrSinkTimeout, e.sinkTimeout)
	}
}

// handleSuccess marks the job as succeeded and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, ref string, res normalize.Result, elapsed time.Duration) (*job.Job, error) {
	done, err := e.transition(ctx, job.Transition{
		JobID:        j.ID,
		Version:      j.Version,
		To:           job.StateSucceeded,
		ResultRef:    ref,
		RecordCount:  len(res.Records),
		DroppedCount: res.Dropped,
	})
	if err != nil {
		e.logger.Error("failed to record job success",
			slog.String("job_id", j.ID.String()),
			slog.String("supplier", j.Supplier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	e.extensions.EmitJobSucceeded(context.WithoutCancel(ctx), done, elapsed)
	e.logger.Info("job succeeded",
		slog.String("job_id", j.ID.String()),
		slog.String("supplier", j.Supplier),
		slog.Int("attempt", j.AttemptCount),
		slog.Int("records", len(res.Records)),
		slog.Int("dropped", res.Dropped),
		slog.Int("duplicates", res.Duplicates),
		slog.Duration("elapsed", elapsed),
	)
	return done, nil
}

// handleFailure classifies cause and either schedules a retry or fails the
// job.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, cause error) (*job.Job, error) {
	f := job.NewFailure(cause, j.AttemptCount)

	limit := j.MaxRetries
	if f.Class == jascrapers.ClassDataQuality {
		limit = min(limit, e.dqRetries)
	}
	if f.Class.Retryable() && j.AttemptCount <= limit {
		return e.scheduleRetry(ctx, j, f)
	}
	return e.fail(ctx, j, f)
}

// scheduleRetry moves the job to retrying with a backoff deadline.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, f *job.Failure) (*job.Job, error) {
	delay := e.backoff.Delay(j.AttemptCount)
	runAt := time.Now().UTC().Add(delay)

	next, err := e.transition(ctx, job.Transition{
		JobID:   j.ID,
		Version: j.Version,
		To:      job.StateRetrying,
		Failure: f,
		RunAt:   runAt,
	})
	if err != nil {
		e.logger.Error("failed to schedule job retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	e.extensions.EmitJobRetrying(context.WithoutCancel(ctx), next, f, runAt)
	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("supplier", j.Supplier),
		slog.String("class", string(f.Class)),
		slog.Int("attempt", j.AttemptCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)
	return next, nil
}

// fail moves the job to failed.
func (e *Executor) fail(ctx context.Context, j *job.Job, f *job.Failure) (*job.Job, error) {
	next, err := e.transition(ctx, job.Transition{
		JobID:   j.ID,
		Version: j.Version,
		To:      job.StateFailed,
		Failure: f,
	})
	if err != nil {
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	e.extensions.EmitJobFailed(context.WithoutCancel(ctx), next, f)
	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("supplier", j.Supplier),
		slog.String("class", string(f.Class)),
		slog.Int("attempt", j.AttemptCount),
		slog.String("error", f.Message),
	)
	return next, nil
}

// checkpoint inspects why ctx was cancelled, if it was. A cancelled job or
// a lost lease abandons the attempt without writing; a shutdown puts the
// job back to retrying so another run picks it up.
func (e *Executor) checkpoint(ctx context.Context, j *job.Job) (stop bool, done *job.Job, err error) {
	cause := context.Cause(ctx)
	if cause == nil {
		return false, nil, nil
	}

	switch {
	case errors.Is(cause, jascrapers.ErrJobCancelled), errors.Is(cause, jascrapers.ErrConflict):
		e.logger.Info("job attempt abandoned",
			slog.String("job_id", j.ID.String()),
			slog.String("supplier", j.Supplier),
			slog.String("reason", cause.Error()),
		)
		return true, nil, cause

	default:
		done, err := e.interrupt(ctx, j, cause)
		return true, done, err
	}
}

// interrupt returns an attempt cut short by shutdown to retrying, due
// immediately, or fails it if it was the last attempt.
func (e *Executor) interrupt(ctx context.Context, j *job.Job, cause error) (*job.Job, error) {
	f := &job.Failure{
		Class:   jascrapers.ClassTransient,
		Message: "interrupted: " + cause.Error(),
		Attempt: j.AttemptCount,
		At:      time.Now().UTC(),
	}
	if j.AttemptCount >= j.MaxAttempts() {
		return e.fail(ctx, j, f)
	}

	next, err := e.transition(ctx, job.Transition{
		JobID:   j.ID,
		Version: j.Version,
		To:      job.StateRetrying,
		Failure: f,
		RunAt:   f.At,
	})
	if err != nil {
		e.logger.Error("failed to requeue interrupted job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	e.extensions.EmitJobRetrying(context.WithoutCancel(ctx), next, f, f.At)
	e.logger.Info("interrupted job requeued",
		slog.String("job_id", j.ID.String()),
		slog.String("supplier", j.Supplier),
	)
	return next, nil
}

// transition writes t on a context detached from the attempt's
// cancellation so a job is never left running because its attempt was
// interrupted.
func (e *Executor) transition(ctx context.Context, t job.Transition) (*job.Job, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	defer cancel()
	return e.store.Transition(ctx, t)
}
