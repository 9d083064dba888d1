// Package middleware provides composable middleware around supplier
// adapter calls.
//
// A [Middleware] is a function that wraps the fetch handler. Middleware are
// composed into a chain using [Chain] and applied on every attempt. They are
// applied right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover] converts adapter panics into permanent errors
//   - [Logging] logs supplier, attempt, duration and error class
//   - [Tracing] wraps the call in an OpenTelemetry span
//   - [Metrics] records call duration and outcome counters
//   - [Timeout] bounds the call with the supplier's deadline
//   - [Throttle] waits for a token from the supplier's rate bucket
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., rate limiting that gave up on a cancelled
// context).
package middleware
