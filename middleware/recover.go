package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/courier/job"
)

// Recover converts a panicking step into an error so the job fails instead
// of taking its worker down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err = fmt.Errorf("panic in %s step of job %s: %v", j.Type, j.ID, r)
			logger.Error("step handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("transaction_id", j.TransactionID),
				slog.String("step_type", string(j.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}()
		return next(ctx)
	}
}
