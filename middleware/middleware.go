package middleware

import (
	"context"
	"errors"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Handler runs the step of the job being executed.
type Handler func(ctx context.Context) error

// Middleware surrounds a step. It is handed the job and must call next
// unless it decides the step should not run.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain nests mws so the first one sees the step first and the result last.
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	case 1:
		return mws[0]
	}
	head, rest := mws[0], Chain(mws[1:]...)
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return head(ctx, j, func(ctx context.Context) error {
			return rest(ctx, j, next)
		})
	}
}

// failureStage returns the execution stage carried by err, or "" when err
// did not come from a step handler.
func failureStage(err error) string {
	var execErr *courier.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Stage
	}
	return ""
}
