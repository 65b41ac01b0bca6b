package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
)

// Logging logs each step at debug when it starts and at info or error when
// it ends.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		log := logger.With(
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
			slog.String("subscriber_id", j.SubscriberID),
			slog.String("step_type", string(j.Type)),
			slog.Int("step_index", j.StepIndex),
		)
		log.DebugContext(ctx, "step started")

		start := time.Now()
		err := next(ctx)
		took := slog.Duration("elapsed", time.Since(start))
		if err != nil {
			log.ErrorContext(ctx, "step failed", took,
				slog.String("stage", failureStage(err)),
				slog.String("error", err.Error()),
			)
			return err
		}
		log.InfoContext(ctx, "step completed", took)
		return nil
	}
}
