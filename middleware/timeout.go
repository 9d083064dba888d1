package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Timeout returns middleware that enforces a per-attempt deadline. The
// deadline for a job is looked up with timeoutFor, typically the supplier
// descriptor's Timeout falling back to the configured default. A zero
// duration leaves the context untouched.
func Timeout(logger *slog.Logger, timeoutFor func(*job.Job) time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d := timeoutFor(j); d > 0 {
			logger.Debug("fetch timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
