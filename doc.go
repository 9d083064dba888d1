// Package jascrapers is the orchestration core of the JA-Scrapers service:
// it schedules, executes, monitors and recovers scrape jobs against several
// independent supplier sites and normalizes their output into a single
// canonical part/quote schema.
//
// The root package holds the pieces every subsystem shares: the [Config],
// the [Orchestrator] lifecycle holder, the sentinel errors and the error
// classification used by the retry policy.
//
// # Quick Start
//
//	o, err := jascrapers.New(
//	    jascrapers.WithStore(pgStore),
//	    jascrapers.WithConcurrency(16),
//	)
//	reg := supplier.NewRegistry()
//	err = reg.Register(desc, adapter)
//	eng, err := engine.Build(o, reg, engine.WithSink(quotes))
//	err = eng.Start(ctx)
//
// # Architecture
//
// A submitted job is persisted by the job store, claimed by the scheduler
// through the store's compare-and-swap transition, executed by the worker
// pool against the supplier adapter, normalized, written to a result sink
// and finally transitioned to a terminal or retryable state. The job store
// is the only shared mutable state.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers such as "job_01h2xcejqtf2nbrexx3vqjhp41".
package jascrapers
