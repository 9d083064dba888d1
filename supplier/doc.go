// Package supplier defines the pluggable supplier capability and the static
// descriptors that configure it.
//
// Each supplier site is served by one [Adapter]: given a job's opaque
// parameters it performs the site-specific fetch and extraction and returns
// [RawRecord] values, or a failure classified with [jascrapers.Transient] or
// [jascrapers.Permanent]. The orchestrator never inspects an adapter beyond
// this interface.
//
// A [Descriptor] carries the per-supplier limits (concurrency cap and rate
// limit), the attempt deadline and the field mapping the normalizer uses.
// Descriptors are registered with their adapter in a [Registry] at startup;
// the registry is sealed when the engine starts and is read-only afterwards.
package supplier
