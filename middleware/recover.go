package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// A panicking adapter is a broken adapter, so the panic is logged with a
// stack trace and returned as a permanent error.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("supplier adapter panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("supplier", j.Supplier),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = jascrapers.Permanent(fmt.Errorf("panic in %s adapter: %v", j.Supplier, r))
			}
		}()
		return next(ctx)
	}
}
