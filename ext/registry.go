package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are sorted into per-hook slices at registration so emit
// calls iterate only over extensions that implement the hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	triggerCompiled []entry[TriggerCompiled]
	jobQueued       []entry[JobQueued]
	jobDelayed      []entry[JobDelayed]
	jobStarted      []entry[JobStarted]
	jobCompleted    []entry[JobCompleted]
	jobFailed       []entry[JobFailed]
	jobCanceled     []entry[JobCanceled]
	messageSent     []entry[MessageSent]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension to every hook it implements. Extensions are
// notified in registration order. Register is not safe to call concurrently
// with the emit methods; register everything before starting the engine.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.triggerCompiled = appendHook[TriggerCompiled](r.triggerCompiled, name, e)
	r.jobQueued = appendHook[JobQueued](r.jobQueued, name, e)
	r.jobDelayed = appendHook[JobDelayed](r.jobDelayed, name, e)
	r.jobStarted = appendHook[JobStarted](r.jobStarted, name, e)
	r.jobCompleted = appendHook[JobCompleted](r.jobCompleted, name, e)
	r.jobFailed = appendHook[JobFailed](r.jobFailed, name, e)
	r.jobCanceled = appendHook[JobCanceled](r.jobCanceled, name, e)
	r.messageSent = appendHook[MessageSent](r.messageSent, name, e)
	r.shutdown = appendHook[Shutdown](r.shutdown, name, e)
}

func appendHook[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitTriggerCompiled notifies all extensions that implement TriggerCompiled.
func (r *Registry) EmitTriggerCompiled(ctx context.Context, transactionID string, jobs []*job.Job) {
	for _, e := range r.triggerCompiled {
		r.check("OnTriggerCompiled", e.name, e.hook.OnTriggerCompiled(ctx, transactionID, jobs))
	}
}

// EmitJobQueued notifies all extensions that implement JobQueued.
func (r *Registry) EmitJobQueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobQueued {
		r.check("OnJobQueued", e.name, e.hook.OnJobQueued(ctx, j))
	}
}

// EmitJobDelayed notifies all extensions that implement JobDelayed.
func (r *Registry) EmitJobDelayed(ctx context.Context, j *job.Job, until time.Time) {
	for _, e := range r.jobDelayed {
		r.check("OnJobDelayed", e.name, e.hook.OnJobDelayed(ctx, j, until))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobCanceled notifies all extensions that implement JobCanceled.
func (r *Registry) EmitJobCanceled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCanceled {
		r.check("OnJobCanceled", e.name, e.hook.OnJobCanceled(ctx, j))
	}
}

// EmitMessageSent notifies all extensions that implement MessageSent.
func (r *Registry) EmitMessageSent(ctx context.Context, m *message.Message) {
	for _, e := range r.messageSent {
		r.check("OnMessageSent", e.name, e.hook.OnMessageSent(ctx, m))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a warning when a hook returns an error. Hook errors never
// reach the caller.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
