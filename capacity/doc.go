// Package capacity enforces the two independent limits on dispatch: a
// global cap on jobs executing at once, and per-supplier concurrency caps
// and token-bucket rate limits.
//
// Concurrency slots are taken when the scheduler claims a job and released
// when the executor returns, so a supplier's in-flight count never exceeds
// its cap:
//
//	m := capacity.NewManager(8,
//	    capacity.Config{Supplier: "acme", MaxConcurrency: 2, RateLimit: 0.5, RateBurst: 1},
//	)
//	if m.TryAcquire("acme") {
//	    defer m.Release("acme")
//	    if err := m.Wait(ctx, "acme"); err != nil { ... }
//	    // call the adapter
//	}
//
// Rate tokens are taken separately with [Manager.Wait] immediately before
// each adapter call, so the bucket is shared by all of a supplier's workers.
// Token buckets use golang.org/x/time/rate.
//
// Suppliers without a [Config] are limited only by the global cap.
package capacity
