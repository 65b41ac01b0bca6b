package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/trigger"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a timed digest's cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Emitter is notified once a trigger's jobs are persisted.
// ext.Registry satisfies it.
type Emitter interface {
	EmitTriggerCompiled(ctx context.Context, transactionID string, jobs []*job.Job)
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock sets the clock used for CreatedAt and due times.
func WithClock(c courier.Clock) Option {
	return func(cm *Compiler) { cm.clock = c }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(cm *Compiler) { cm.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cm *Compiler) { cm.logger = l }
}

// WithEnvironment sets the environment stamped on triggers that carry none.
func WithEnvironment(env string) Option {
	return func(cm *Compiler) { cm.environment = env }
}

// Compiler validates triggers and persists their jobs.
type Compiler struct {
	store       job.Store
	clock       courier.Clock
	emitter     Emitter
	logger      *slog.Logger
	environment string
}

// New creates a Compiler writing to store.
func New(store job.Store, opts ...Option) *Compiler {
	c := &Compiler{
		store:  store,
		clock:  courier.SystemClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile validates trg against tpl, builds every job and inserts them in one
// batch. Nothing is written when validation fails. The returned jobs are
// PENDING; scheduling them is the caller's concern.
func (c *Compiler) Compile(ctx context.Context, tpl *step.Template, trg trigger.Trigger) ([]*job.Job, error) {
	if c.store == nil {
		return nil, courier.ErrNoStore
	}
	if trg.EnvironmentID == "" {
		trg.EnvironmentID = c.environment
	}

	jobs, err := Compile(tpl, trg, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := c.store.InsertJobs(ctx, jobs); err != nil {
		return nil, fmt.Errorf("compile trigger: %w", err)
	}

	txn := jobs[0].TransactionID
	c.logger.Info("trigger compiled",
		slog.String("transaction_id", txn),
		slog.String("template_id", tpl.ID.String()),
		slog.Int("subscribers", len(trg.To)),
		slog.Int("jobs", len(jobs)),
	)
	if c.emitter != nil {
		c.emitter.EmitTriggerCompiled(ctx, txn, jobs)
	}
	return jobs, nil
}

// Compile builds the jobs for trg without touching any store. Subscribers
// form the outer loop and steps the inner one, so the result holds one
// contiguous chain per subscriber in To order.
func Compile(tpl *step.Template, trg trigger.Trigger, now time.Time) ([]*job.Job, error) {
	if err := Validate(tpl, trg); err != nil {
		return nil, err
	}

	txn := trg.TransactionID
	if txn == "" {
		txn = uuid.NewString()
	}

	var payload []byte
	if len(trg.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(trg.Payload); err != nil {
			return nil, courier.NewValidationError("payload", "not encodable as JSON: %v", err)
		}
	}

	now = now.UTC()
	jobs := make([]*job.Job, 0, len(trg.To)*len(tpl.Steps))
	for _, subscriber := range trg.To {
		var prev id.JobID
		for i, st := range tpl.Steps {
			j := &job.Job{
				Entity:        courier.NewEntityAt(now),
				ID:            id.NewJobID(),
				TemplateID:    tpl.ID,
				TransactionID: txn,
				EnvironmentID: trg.EnvironmentID,
				SubscriberID:  subscriber,
				Type:          st.Type,
				Step:          st,
				Status:        job.StatusPending,
				Payload:       payload,
				StepIndex:     i,
				PredecessorID: prev,
			}
			if st.Type.IsDeferred() {
				at, err := DueTime(st, trg, now)
				if err != nil {
					return nil, courier.NewValidationError(fmt.Sprintf("steps[%d]", i), "%v", err)
				}
				j.AvailableAt = &at
			}
			jobs = append(jobs, j)
			prev = j.ID
		}
	}
	return jobs, nil
}

// DueTime computes when a deferred step becomes available. An override for
// the step type wins over the step metadata, timed digests follow their cron
// schedule, and everything else waits Amount Units.
func DueTime(st step.Step, trg trigger.Trigger, now time.Time) (time.Time, error) {
	if o, ok := trg.Override(st.Type); ok {
		return o.Unit.After(now, o.Amount)
	}
	if st.Type == step.Digest && st.Metadata.Timed() {
		sched, err := ParseCron(st.Metadata.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", st.Metadata.Cron, err)
		}
		return sched.Next(now), nil
	}
	return st.Metadata.Unit.After(now, st.Metadata.Amount)
}
