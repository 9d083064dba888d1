// Package middleware provides composable middleware around supplier adapter
// calls. Middleware wraps the fetch synchronously and can modify execution
// (recover from panics, log, trace, bound the deadline, wait for a rate
// token).
package middleware

import (
	"context"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Handler is the terminal function that performs the adapter call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, logging, throttle) executes as:
//
//	recover → logging → throttle → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
