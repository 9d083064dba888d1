package jascrapers

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the global cap on jobs executing at once, across all
	// suppliers.
	Concurrency int

	// ScanInterval is how often the scheduler scans for eligible jobs when
	// no event wakes it earlier.
	ScanInterval time.Duration

	// LeaseTTL is how long a claimed job stays leased without a heartbeat.
	// Jobs whose lease expires are reclaimed as retrying.
	LeaseTTL time.Duration

	// HeartbeatInterval is how often active jobs renew their lease.
	HeartbeatInterval time.Duration

	// JobTimeout is the default per-attempt deadline when a supplier does
	// not declare its own.
	JobTimeout time.Duration

	// StoreTimeout bounds every job store write made by a worker.
	StoreTimeout time.Duration

	// SinkTimeout bounds the result sink write of one attempt. A write that
	// runs past it fails the attempt as transient.
	SinkTimeout time.Duration

	// MaxRetries is the retry budget given to new jobs. A job makes at most
	// MaxRetries+1 attempts.
	MaxRetries int

	// MaxDataQualityRetries caps retries for jobs whose output could not be
	// normalized. It never exceeds MaxRetries.
	MaxDataQualityRetries int

	// BackoffBase and BackoffMax shape the retry delay:
	// min(BackoffBase * 2^attempt, BackoffMax).
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// BackoffJitter applies full jitter to the retry delay.
	BackoffJitter bool

	// DedupBucket is the timestamp bucket width used in the canonical
	// record uniqueness key.
	DedupBucket time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:           8,
		ScanInterval:          time.Second,
		LeaseTTL:              30 * time.Second,
		HeartbeatInterval:     10 * time.Second,
		JobTimeout:            2 * time.Minute,
		StoreTimeout:          10 * time.Second,
		SinkTimeout:           30 * time.Second,
		MaxRetries:            3,
		MaxDataQualityRetries: 1,
		BackoffBase:           2 * time.Second,
		BackoffMax:            5 * time.Minute,
		BackoffJitter:         true,
		DedupBucket:           24 * time.Hour,
		ShutdownTimeout:       30 * time.Second,
	}
}
