package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TriggerCompiled is called after a trigger's jobs are persisted.
type TriggerCompiled interface {
	OnTriggerCompiled(ctx context.Context, transactionID string, jobs []*job.Job) error
}

// JobQueued is called after a job moves to queued.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobDelayed is called after a deferred job moves to delayed.
type JobDelayed interface {
	OnJobDelayed(ctx context.Context, j *job.Job, until time.Time) error
}

// JobStarted is called when a worker claims a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job's step succeeds.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job's step fails.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCanceled is called for every job a cancellation moved to canceled.
type JobCanceled interface {
	OnJobCanceled(ctx context.Context, j *job.Job) error
}

// MessageSent is called after a channel step's message is delivered and
// stored.
type MessageSent interface {
	OnMessageSent(ctx context.Context, m *message.Message) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
