package jascrapers

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator. It covers
// lifecycle operations only; the engine layer asserts the full job.Store
// contract so the root package does not import the job package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is the lifecycle of the scheduler and worker pool, provided by the
// engine package.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator holds the configuration, logger and store shared by every
// subsystem, and owns their start/stop lifecycle.
//
// Create one with New() and functional options, then pass it to
// engine.Build to wire the scheduler, worker pool and suppliers.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runner     runner

	started bool
}

// New creates an Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.config.MaxDataQualityRetries > o.config.MaxRetries {
		o.config.MaxDataQualityRetries = o.config.MaxRetries
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// SetRunner sets the scheduler/pool lifecycle (called by engine.Build).
func (o *Orchestrator) SetRunner(r runner) { o.runner = r }

// SetExtensions sets the extension emitter (called by engine.Build).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start begins scheduling and executing jobs.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.runner == nil {
		return ErrNoStore
	}
	if err := o.runner.Start(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop gracefully shuts down the runner, notifies extensions and closes
// the store.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.runner != nil && o.started {
		if err := o.runner.Stop(ctx); err != nil {
			o.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
		o.started = false
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) error {
		o.config = cfg
		return nil
	}
}

// WithConcurrency sets the global cap on concurrently executing jobs.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithMaxRetries sets the retry budget given to new jobs.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) error {
		o.config.MaxRetries = n
		return nil
	}
}

// WithScanInterval sets how often the scheduler scans for eligible jobs.
func WithScanInterval(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.ScanInterval = d
		return nil
	}
}

// WithLease sets the lease TTL and heartbeat interval for running jobs.
func WithLease(ttl, heartbeat time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.LeaseTTL = ttl
		o.config.HeartbeatInterval = heartbeat
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The engine requires it to also
// implement job.Store.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}
