package middleware

import (
	"context"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Waiter hands out rate tokens per supplier. *capacity.Manager implements
// it.
type Waiter interface {
	Wait(ctx context.Context, supplier string) error
}

// Throttle returns middleware that waits for a token from the supplier's
// bucket before calling next. If ctx ends while waiting, next is never
// called and the context error is returned.
func Throttle(w Waiter) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if err := w.Wait(ctx, j.Supplier); err != nil {
			return err
		}
		return next(ctx)
	}
}
