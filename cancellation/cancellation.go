// Package cancellation stops a transaction's remaining work. Every job of
// the transaction that has not started moves to canceled; running jobs
// finish, but their successors are already canceled so the chain ends
// there.
package cancellation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Emitter receives cancellation events. ext.Registry satisfies it.
type Emitter interface {
	EmitJobCanceled(ctx context.Context, j *job.Job)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock.
func WithClock(c courier.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(co *Coordinator) { co.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// Coordinator cancels transactions.
type Coordinator struct {
	store   job.Store
	clock   courier.Clock
	emitter Emitter
	logger  *slog.Logger
}

// New creates a Coordinator over store.
func New(store job.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		clock:  courier.SystemClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cancel moves every pending, queued or delayed job of the transaction to
// canceled and returns how many it moved. A job that changes state first is
// skipped, so repeating Cancel returns 0. It returns
// courier.ErrTransactionNotFound when the transaction has no jobs.
func (c *Coordinator) Cancel(ctx context.Context, transactionID string) (int, error) {
	if transactionID == "" {
		return 0, courier.NewValidationError("transaction_id", "is required")
	}

	jobs, err := c.store.FindJobs(ctx, job.Filter{TransactionID: transactionID})
	if err != nil {
		return 0, fmt.Errorf("cancel %s: %w", transactionID, err)
	}
	if len(jobs) == 0 {
		return 0, fmt.Errorf("%w: %s", courier.ErrTransactionNotFound, transactionID)
	}

	var (
		canceled int
		errs     []error
	)
	for _, j := range jobs {
		if j.Status.Terminal() || j.Status == job.StatusRunning {
			continue
		}
		t := job.Cancel(c.clock.Now())
		ok, err := c.store.CompareAndSetStatus(ctx, j.ID, t)
		switch {
		case errors.Is(err, courier.ErrJobNotFound):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("cancel job %s: %w", j.ID, err))
			continue
		case !ok:
			c.logger.Debug("job left its cancelable state first",
				slog.String("job_id", j.ID.String()),
				slog.String("transaction_id", transactionID),
			)
			continue
		}
		t.Apply(j)
		canceled++
		if c.emitter != nil {
			c.emitter.EmitJobCanceled(ctx, j)
		}
	}

	c.logger.Info("transaction canceled",
		slog.String("transaction_id", transactionID),
		slog.Int("canceled", canceled),
		slog.Int("jobs", len(jobs)),
	)
	return canceled, errors.Join(errs...)
}
