package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/backoff"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/capacity"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/cron"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/ext"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/id"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
	mw "github.com/Joy-Aviation/Joy-Aviation-Supplies/middleware"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/normalize"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/observability"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/scheduler"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/sink"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/worker"
)

const instrumentationName = "github.com/Joy-Aviation/Joy-Aviation-Supplies"

// maxCancelAttempts bounds the reload loop when a cancel races other
// transitions of the same job.
const maxCancelAttempts = 8

// Engine wraps an Orchestrator with typed subsystem access.
// Use Build() to create one.
type Engine struct {
	o          *jascrapers.Orchestrator
	suppliers  *supplier.Registry
	extensions *ext.Registry
	jobStore   job.Store
	sink       sink.Sink
	normalizer *normalize.Normalizer
	caps       *capacity.Manager
	bo         backoff.Strategy
	pool       *worker.Pool
	sched      *scheduler.Scheduler
	mws        []mw.Middleware
	logger     *slog.Logger

	// Cron subsystem.
	cronEntries []cron.Entry
	cron        *cron.Scheduler

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets where canonical records are written. Required.
func WithSink(s sink.Sink) Option {
	return func(eng *Engine) { eng.sink = s }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware after the engine's default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy. If not set, the strategy is
// built from the orchestrator config's BackoffBase, BackoffMax and
// BackoffJitter.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithCron adds recurring submissions.
func WithCron(entries ...cron.Entry) Option {
	return func(eng *Engine) { eng.cronEntries = append(eng.cronEntries, entries...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from an Orchestrator and the supplier registry,
// which it seals. The Orchestrator's store must implement job.Store.
func Build(o *jascrapers.Orchestrator, suppliers *supplier.Registry, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	store := o.Store()

	if store == nil {
		return nil, jascrapers.ErrNoStore
	}

	// Type-assert the store to get the job.Store interface.
	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("jascrapers: store does not implement job.Store")
	}

	config := o.Config()
	eng := &Engine{
		o:          o,
		suppliers:  suppliers,
		extensions: ext.NewRegistry(logger),
		jobStore:   js,
		normalizer: normalize.New(normalize.WithBucket(config.DedupBucket)),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.sink == nil {
		return nil, jascrapers.ErrNoSink
	}
	if eng.bo == nil {
		eng.bo = backoff.New(config.BackoffBase, config.BackoffMax, config.BackoffJitter)
	}

	suppliers.Seal()
	descriptors := suppliers.Descriptors()
	capConfigs := make([]capacity.Config, 0, len(descriptors))
	for _, d := range descriptors {
		capConfigs = append(capConfigs, capacity.Config{
			Supplier:       d.Name,
			MaxConcurrency: d.Concurrency(),
			RateLimit:      d.RateLimit.PerSecond(),
			RateBurst:      d.RateLimit.Burst,
		})
	}
	eng.caps = capacity.NewManager(config.Concurrency, capConfigs...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default chain: recover → tracing → metrics → logging → throttle → timeout.
	// The token wait happens before the attempt deadline starts.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Throttle(eng.caps),
		mw.Timeout(logger, eng.timeoutFor),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(suppliers, eng.normalizer, eng.sink, js, eng.extensions, logger,
		worker.WithBackoff(eng.bo),
		worker.WithMiddleware(allMws...),
		worker.WithDataQualityRetries(config.MaxDataQualityRetries),
		worker.WithStoreTimeout(config.StoreTimeout),
		worker.WithSinkTimeout(config.SinkTimeout),
	)
	eng.pool = worker.NewPool(js, executor, eng.extensions, logger,
		worker.WithLease(config.LeaseTTL, config.HeartbeatInterval),
		worker.WithPoolStoreTimeout(config.StoreTimeout),
	)
	eng.sched = scheduler.New(js, eng.caps, eng.pool, eng.extensions, suppliers.Names(), logger,
		scheduler.WithScanInterval(config.ScanInterval),
		scheduler.WithStoreTimeout(config.StoreTimeout),
	)

	if len(eng.cronEntries) > 0 {
		for _, e := range eng.cronEntries {
			if _, ok := suppliers.Lookup(e.Supplier); !ok {
				return nil, fmt.Errorf("%w: cron entry %q: %w: %q",
					jascrapers.ErrInvalidParameters, e.Name, jascrapers.ErrUnknownSupplier, e.Supplier)
			}
		}
		submit := func(ctx context.Context, supplierName string, params map[string]string, key string) (*job.Job, error) {
			j, _, err := eng.Submit(ctx, supplierName, params, key)
			return j, err
		}
		cs, err := cron.NewScheduler(eng.cronEntries, submit, eng.extensions, logger)
		if err != nil {
			return nil, err
		}
		eng.cron = cs
	}

	// Wire back into the Orchestrator.
	o.SetRunner(&runner{pool: eng.pool, sched: eng.sched})
	o.SetExtensions(eng.extensions)

	return eng, nil
}

// timeoutFor returns the per-attempt deadline of j's supplier, falling
// back to the configured default.
func (eng *Engine) timeoutFor(j *job.Job) time.Duration {
	if e, ok := eng.suppliers.Lookup(j.Supplier); ok && e.Descriptor.Timeout > 0 {
		return e.Descriptor.Timeout
	}
	return eng.o.Config().JobTimeout
}

// runner starts the pool before the scheduler that feeds it and stops
// them in the reverse order.
type runner struct {
	pool  *worker.Pool
	sched *scheduler.Scheduler
}

func (r *runner) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := r.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	schedErr := r.sched.Stop(ctx)
	return errors.Join(schedErr, r.pool.Stop(ctx))
}

// Start begins scheduling and executing jobs, then starts the cron
// scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.o.Start(ctx); err != nil {
		return err
	}
	if eng.cron != nil {
		if err := eng.cron.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}
	eng.logger.Info("engine started",
		slog.Any("suppliers", eng.suppliers.Names()),
		slog.Int("concurrency", eng.o.Config().Concurrency),
	)
	return nil
}

// Stop gracefully shuts down the engine: no new submissions fire, running
// jobs are interrupted back to retrying and the store is closed.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.cron != nil {
		if err := eng.cron.Stop(ctx); err != nil {
			eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
		}
	}
	return eng.o.Stop(ctx)
}

// ── Write operations ────────────────────────────────

// Submit creates a pending job for supplier with params. When
// idempotencyKey is set and a job was already created with it, that job is
// returned unchanged and created is false; reusing a key with a different
// supplier or parameters fails with ErrIdempotencyMismatch. An unknown
// supplier or parameters the adapter rejects fail with
// ErrInvalidParameters and create nothing.
func (eng *Engine) Submit(
	ctx context.Context,
	supplierName string,
	params map[string]string,
	idempotencyKey string,
) (j *job.Job, created bool, err error) {
	if idempotencyKey != "" {
		if existing, err := eng.replay(ctx, supplierName, params, idempotencyKey); existing != nil || err != nil {
			return existing, false, err
		}
	}

	if err := eng.suppliers.Validate(supplierName, params); err != nil {
		return nil, false, err
	}

	j = job.New(supplierName, params, eng.o.Config().MaxRetries)
	j.IdempotencyKey = idempotencyKey
	if err := eng.jobStore.CreateJob(ctx, j); err != nil {
		if idempotencyKey != "" && errors.Is(err, jascrapers.ErrDuplicateIdempotencyKey) {
			// A concurrent submission with the same key won the insert.
			existing, rerr := eng.replay(ctx, supplierName, params, idempotencyKey)
			if existing != nil || rerr != nil {
				return existing, false, rerr
			}
		}
		return nil, false, err
	}

	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("supplier", j.Supplier),
	)
	eng.extensions.EmitJobSubmitted(ctx, j)
	eng.sched.Wake()
	return j, true, nil
}

// replay returns the job created with key if it matches the request, nil
// if there is no such job.
func (eng *Engine) replay(ctx context.Context, supplierName string, params map[string]string, key string) (*job.Job, error) {
	existing, err := eng.jobStore.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, jascrapers.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Supplier != supplierName || !sameParams(existing.Parameters, params) {
		return nil, fmt.Errorf("%w: key %q belongs to job %s", jascrapers.ErrIdempotencyMismatch, key, existing.ID)
	}
	return existing, nil
}

func sameParams(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return maps.Equal(a, b)
}

// Cancel moves a job to cancelled and interrupts its running attempt, if
// any. Cancelling a cancelled job returns it unchanged; cancelling a job
// that already succeeded or failed returns ErrInvalidTransition.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	for range maxCancelAttempts {
		j, err := eng.jobStore.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.State == job.StateCancelled {
			return j, nil
		}
		if j.State.Terminal() {
			return nil, fmt.Errorf("%w: job %s is %s", jascrapers.ErrInvalidTransition, jobID, j.State)
		}

		cancelled, err := eng.jobStore.Transition(ctx, job.Transition{
			JobID:   jobID,
			Version: j.Version,
			To:      job.StateCancelled,
		})
		if errors.Is(err, jascrapers.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		interrupted := eng.pool.Cancel(jobID)
		eng.logger.Info("job cancelled",
			slog.String("job_id", jobID.String()),
			slog.String("from_state", string(j.State)),
			slog.Bool("interrupted", interrupted),
		)
		eng.extensions.EmitJobCancelled(ctx, cancelled)
		return cancelled, nil
	}
	return nil, fmt.Errorf("%w: job %s kept changing", jascrapers.ErrConflict, jobID)
}

// ── Read operations ─────────────────────────────────

// Get returns a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// List returns up to limit jobs matching opts in creation order. A limit of
// zero or less returns every match.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts, limit int) ([]*job.Job, error) {
	if limit > 0 && (opts.PageSize <= 0 || opts.PageSize > limit) {
		opts.PageSize = limit
	}
	var out []*job.Job
	for j, err := range eng.jobStore.ListJobs(ctx, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, j)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Stats is a snapshot of job counts.
type Stats struct {
	ByState    map[job.State]int64 `json:"by_state"`
	BySupplier map[string]int64    `json:"by_supplier"`
	Tally      []job.Tally         `json:"tally"`
	Total      int64               `json:"total"`
}

// Counts returns job counts by state, by supplier, and by both.
func (eng *Engine) Counts(ctx context.Context) (*Stats, error) {
	tally, err := eng.jobStore.Tally(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByState:    make(map[job.State]int64, len(job.States)),
		BySupplier: make(map[string]int64),
		Tally:      tally,
	}
	for _, st := range job.States {
		s.ByState[st] = 0
	}
	for _, name := range eng.suppliers.Names() {
		s.BySupplier[name] = 0
	}
	for _, t := range tally {
		s.ByState[t.State] += t.Count
		s.BySupplier[t.Supplier] += t.Count
		s.Total += t.Count
	}
	return s, nil
}

// Records returns the canonical records of a succeeded job. It returns
// ErrResultNotFound for a job without a result.
func (eng *Engine) Records(ctx context.Context, jobID id.JobID) ([]normalize.Record, error) {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateSucceeded || j.ResultRef == "" {
		return nil, fmt.Errorf("%w: job %s is %s", jascrapers.ErrResultNotFound, jobID, j.State)
	}
	return eng.sink.Read(ctx, j.ResultRef)
}

// Suppliers returns the registered supplier descriptors.
func (eng *Engine) Suppliers() []supplier.Descriptor { return eng.suppliers.Descriptors() }

// pinger is implemented by sinks backed by a remote service.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store and, when it supports it, the sink.
func (eng *Engine) Ping(ctx context.Context) error {
	if err := eng.o.Store().Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if p, ok := eng.sink.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	return nil
}

// ── Accessors ───────────────────────────────────────

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *jascrapers.Orchestrator { return eng.o }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the job scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.sched }

// Capacity returns the concurrency and rate limit manager.
func (eng *Engine) Capacity() *capacity.Manager { return eng.caps }

// Cron returns the cron scheduler, or nil if no entries were configured.
func (eng *Engine) Cron() *cron.Scheduler { return eng.cron }
