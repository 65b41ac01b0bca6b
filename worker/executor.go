// Package worker executes queued jobs. An Executor claims a job, runs its
// step through the middleware chain and the dispatch table, records the
// outcome and schedules the next step of the chain. A Pool runs executor
// loops concurrently over the store's ready queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/provider"
	"github.com/xraph/courier/step"
)

// Outcome is the result of one Execute call.
type Outcome string

const (
	// OutcomeCompleted means the step succeeded and the job is completed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the step failed and the chain halted.
	OutcomeFailed Outcome = "failed"
	// OutcomeAborted means the job was not claimed, usually because another
	// worker or a cancellation got to it first.
	OutcomeAborted Outcome = "aborted"
)

// Store is the persistence an Executor needs.
type Store interface {
	job.Store
	message.Store
}

// Scheduler makes a pending successor eligible to run.
type Scheduler interface {
	Schedule(ctx context.Context, j *job.Job) error
}

// Emitter receives execution events. ext.Registry satisfies it.
type Emitter interface {
	EmitJobStarted(ctx context.Context, j *job.Job)
	EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration)
	EmitJobFailed(ctx context.Context, j *job.Job, err error)
	EmitMessageSent(ctx context.Context, m *message.Message)
}

// StepHandler performs the work of one step type.
type StepHandler interface {
	Handle(ctx context.Context, j *job.Job) error
}

// HandlerFunc adapts a function to StepHandler.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Handle implements StepHandler.
func (f HandlerFunc) Handle(ctx context.Context, j *job.Job) error { return f(ctx, j) }

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock sets the clock.
func WithClock(c courier.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em Emitter) ExecutorOption {
	return func(e *Executor) { e.emitter = em }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithRenderer sets the content renderer. The default is a
// provider.HandlebarsRenderer.
func WithRenderer(r provider.Renderer) ExecutorOption {
	return func(e *Executor) { e.renderer = r }
}

// WithProviders sets the channel providers.
func WithProviders(r *provider.Registry) ExecutorOption {
	return func(e *Executor) { e.providers = r }
}

// WithMiddleware replaces the default middleware chain.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.middleware = mws }
}

// WithHandler registers h for step type t, replacing the built-in handler.
func WithHandler(t step.Type, h StepHandler) ExecutorOption {
	return func(e *Executor) { e.custom[t] = h }
}

// Executor runs single jobs.
type Executor struct {
	store      Store
	scheduler  Scheduler
	clock      courier.Clock
	emitter    Emitter
	logger     *slog.Logger
	renderer   provider.Renderer
	providers  *provider.Registry
	middleware []middleware.Middleware
	custom     map[step.Type]StepHandler

	handlers map[step.Type]StepHandler
	mw       middleware.Middleware
}

// NewExecutor creates an Executor. Channel steps are delivered through the
// providers registry, deferred steps pass through.
func NewExecutor(store Store, sched Scheduler, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:     store,
		scheduler: sched,
		clock:     courier.SystemClock(),
		logger:    slog.Default(),
		custom:    make(map[step.Type]StepHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		e.renderer = provider.NewHandlebarsRenderer()
	}
	if e.providers == nil {
		e.providers = provider.NewRegistry()
	}
	if e.middleware == nil {
		e.middleware = []middleware.Middleware{
			middleware.Recover(e.logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Logging(e.logger),
		}
	}
	e.mw = middleware.Chain(e.middleware...)

	deliver := &deliveryHandler{e: e}
	e.handlers = make(map[step.Type]StepHandler, len(step.Types))
	for _, t := range step.Types {
		if t.IsDeferred() {
			e.handlers[t] = passthrough{}
		} else {
			e.handlers[t] = deliver
		}
	}
	for t, h := range e.custom {
		e.handlers[t] = h
	}
	return e
}

// Execute claims j and runs its step. Losing the claim is not an error: the
// outcome is OutcomeAborted and nothing is changed. A failed step returns
// OutcomeFailed with a *courier.ExecutionError. j is updated in place.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	claim := job.Claim(e.clock.Now())
	ok, err := e.store.CompareAndSetStatus(ctx, j.ID, claim)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("claim job %s: %w", j.ID, err)
	}
	if !ok {
		e.logger.Debug("job claim lost",
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
			slog.String("error", courier.ErrConcurrency.Error()),
		)
		return OutcomeAborted, nil
	}
	claim.Apply(j)
	if e.emitter != nil {
		e.emitter.EmitJobStarted(ctx, j)
	}

	start := time.Now()
	runErr := e.mw(ctx, j, func(ctx context.Context) error {
		h, ok := e.handlers[j.Type]
		if !ok {
			return stageErr(j, courier.StageDispatch, fmt.Errorf("no handler for step type %q", j.Type))
		}
		return h.Handle(ctx, j)
	})
	elapsed := time.Since(start)

	// The outcome is recorded even when the step was cut short by ctx.
	ctx = context.WithoutCancel(ctx)
	if runErr != nil {
		return e.fail(ctx, j, runErr)
	}
	return e.complete(ctx, j, elapsed)
}

func (e *Executor) complete(ctx context.Context, j *job.Job, elapsed time.Duration) (Outcome, error) {
	t := job.Complete(e.clock.Now())
	ok, err := e.store.CompareAndSetStatus(ctx, j.ID, t)
	if err != nil {
		// The step already ran, so the job is not failed either. It stays
		// RUNNING and its chain stops here until an operator resolves it.
		e.logger.Error("record completion",
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
			slog.String("step_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return OutcomeFailed, stageErr(j, courier.StagePersist, err)
	}
	if !ok {
		// Only the claimant moves a running job, so this means the row was
		// changed behind the engine's back.
		e.logger.Warn("completed job was no longer running",
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
		)
		return OutcomeAborted, nil
	}
	t.Apply(j)

	schedErr := e.scheduleSuccessor(ctx, j)
	if e.emitter != nil {
		e.emitter.EmitJobCompleted(ctx, j, elapsed)
	}
	if schedErr != nil {
		return OutcomeCompleted, schedErr
	}
	return OutcomeCompleted, nil
}

func (e *Executor) scheduleSuccessor(ctx context.Context, j *job.Job) error {
	next, err := e.store.FindJobs(ctx, job.Filter{PredecessorID: j.ID, Limit: 1})
	if err != nil {
		return fmt.Errorf("find successor of job %s: %w", j.ID, err)
	}
	if len(next) == 0 {
		return nil
	}
	if err := e.scheduler.Schedule(ctx, next[0]); err != nil {
		return fmt.Errorf("schedule successor of job %s: %w", j.ID, err)
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	execErr := stageErr(j, courier.StageDispatch, cause)
	var handlerErr *courier.ExecutionError
	if errors.As(cause, &handlerErr) {
		// Handlers may return a partly filled error; keep theirs intact.
		execErr.Err = handlerErr.Err
		if handlerErr.Stage != "" {
			execErr.Stage = handlerErr.Stage
		}
	}
	reason := execErr.Stage + " failed"
	if execErr.Err != nil {
		reason = execErr.Err.Error()
	}

	t := job.Fail(e.clock.Now(), reason)
	ok, err := e.store.CompareAndSetStatus(ctx, j.ID, t)
	if err != nil {
		return OutcomeFailed, errors.Join(execErr, fmt.Errorf("mark job %s failed: %w", j.ID, err))
	}
	if ok {
		t.Apply(j)
	}
	if e.emitter != nil {
		e.emitter.EmitJobFailed(ctx, j, execErr)
	}
	return OutcomeFailed, execErr
}

func stageErr(j *job.Job, stage string, err error) *courier.ExecutionError {
	return &courier.ExecutionError{JobID: j.ID, Stage: stage, Err: err}
}

// passthrough completes deferred steps. Their wait happened while delayed.
type passthrough struct{}

func (passthrough) Handle(context.Context, *job.Job) error { return nil }

// deliveryHandler renders a channel step, hands it to the channel's provider
// and records the message.
type deliveryHandler struct {
	e *Executor
}

func (h *deliveryHandler) Handle(ctx context.Context, j *job.Job) error {
	e := h.e
	p, ok := e.providers.Get(j.Type)
	if !ok {
		return stageErr(j, courier.StageDispatch, fmt.Errorf("%w %q", provider.ErrNoProvider, j.Type))
	}

	payload, err := decodePayload(j.Payload)
	if err != nil {
		return stageErr(j, courier.StageRender, err)
	}
	content, err := e.renderer.Render(j.Step.Content, payload)
	if err != nil {
		return stageErr(j, courier.StageRender, err)
	}
	var subject string
	if j.Step.Subject != "" {
		if subject, err = e.renderer.Render(j.Step.Subject, payload); err != nil {
			return stageErr(j, courier.StageRender, err)
		}
	}

	m := &message.Message{
		ID:            id.NewMessageID(),
		JobID:         j.ID,
		TransactionID: j.TransactionID,
		TemplateID:    j.TemplateID,
		EnvironmentID: j.EnvironmentID,
		SubscriberID:  j.SubscriberID,
		Channel:       j.Type,
		Subject:       subject,
		Content:       content,
		CreatedAt:     e.clock.Now().UTC(),
	}
	err = p.Send(ctx, provider.Delivery{
		MessageID:     m.ID,
		JobID:         j.ID,
		TransactionID: j.TransactionID,
		EnvironmentID: j.EnvironmentID,
		SubscriberID:  j.SubscriberID,
		Channel:       j.Type,
		Subject:       subject,
		Content:       content,
		Payload:       payload,
	})
	if err != nil {
		return stageErr(j, courier.StageDeliver, err)
	}

	if err := e.store.CreateMessage(ctx, m); err != nil {
		if errors.Is(err, courier.ErrMessageAlreadyExists) {
			e.logger.Info("message already recorded",
				slog.String("job_id", j.ID.String()),
				slog.String("transaction_id", j.TransactionID),
			)
			return nil
		}
		return stageErr(j, courier.StagePersist, err)
	}
	if e.emitter != nil {
		e.emitter.EmitMessageSent(ctx, m)
	}
	return nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
