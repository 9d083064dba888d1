package middleware

import (
	"context"
	"log/slog"
	"time"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/job"
)

// Logging returns middleware that logs the start and outcome of each
// adapter call.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("fetch started",
			slog.String("job_id", j.ID.String()),
			slog.String("supplier", j.Supplier),
			slog.Int("attempt", j.AttemptCount),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("fetch failed",
				slog.String("job_id", j.ID.String()),
				slog.String("supplier", j.Supplier),
				slog.Int("attempt", j.AttemptCount),
				slog.Duration("elapsed", elapsed),
				slog.String("class", string(jascrapers.Classify(err))),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("fetch completed",
				slog.String("job_id", j.ID.String()),
				slog.String("supplier", j.Supplier),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
