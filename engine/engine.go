package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cancellation"
	"github.com/xraph/courier/compiler"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/provider"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/scheduler"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/worker"
)

const instrumentationName = "github.com/xraph/courier"

// Engine runs notification workflows over a store.
type Engine struct {
	store      store.Store
	config     courier.Config
	clock      courier.Clock
	logger     *slog.Logger
	extensions *ext.Registry
	providers  *provider.Registry
	renderer   provider.Renderer
	mws        []mw.Middleware
	handlers   map[step.Type]worker.StepHandler
	pendingExt []ext.Extension

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers; nil means the global ones.
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	compiler  *compiler.Compiler
	scheduler *scheduler.Scheduler
	executor  *worker.Executor
	pool      *worker.Pool
	canceler  *cancellation.Coordinator

	mu      sync.Mutex
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration. Zero fields keep their
// defaults.
func WithConfig(cfg courier.Config) Option {
	return func(eng *Engine) {
		def := courier.DefaultConfig()
		if cfg.EnvironmentID == "" {
			cfg.EnvironmentID = def.EnvironmentID
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = def.SweepInterval
		}
		if cfg.SweepBatch <= 0 {
			cfg.SweepBatch = def.SweepBatch
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = def.ShutdownTimeout
		}
		eng.config = cfg
	}
}

// WithClock sets the clock shared by every subsystem.
func WithClock(c courier.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExt = append(eng.pendingExt, e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithProvider registers p for a delivery channel.
func WithProvider(channel step.Type, p provider.Provider) Option {
	return func(eng *Engine) { eng.providers.Register(channel, p) }
}

// WithRenderer replaces the handlebars renderer.
func WithRenderer(r provider.Renderer) Option {
	return func(eng *Engine) { eng.renderer = r }
}

// WithStepHandler replaces the built-in handler for a step type.
func WithStepHandler(t step.Type, h worker.StepHandler) Option {
	return func(eng *Engine) { eng.handlers[t] = h }
}

// WithQueueConfig registers per-channel concurrency and rate limits.
// Channels not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets the OTel TracerProvider for the tracing
// middleware.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider for the metrics middleware
// and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, courier.ErrNoStore
	}

	eng := &Engine{
		store:     s,
		config:    courier.DefaultConfig(),
		clock:     courier.SystemClock(),
		logger:    slog.Default(),
		providers: provider.NewRegistry(),
		handlers:  make(map[step.Type]worker.StepHandler),
	}
	for _, opt := range opts {
		opt(eng)
	}
	logger := eng.logger
	cfg := eng.config

	eng.extensions = ext.NewRegistry(logger)
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithProvider(eng.meterProvider))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range eng.pendingExt {
		eng.extensions.Register(e)
	}

	var tracingMw, metricsMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}
	// recover → tracing → metrics → logging → user middleware.
	chain := []mw.Middleware{mw.Recover(logger), tracingMw, metricsMw, mw.Logging(logger)}
	chain = append(chain, eng.mws...)

	eng.compiler = compiler.New(s,
		compiler.WithClock(eng.clock),
		compiler.WithEmitter(eng.extensions),
		compiler.WithLogger(logger),
		compiler.WithEnvironment(cfg.EnvironmentID),
	)
	eng.scheduler = scheduler.New(s,
		scheduler.WithClock(eng.clock),
		scheduler.WithEmitter(eng.extensions),
		scheduler.WithLogger(logger),
		scheduler.WithSweepInterval(cfg.SweepInterval),
		scheduler.WithSweepBatch(cfg.SweepBatch),
	)

	execOpts := []worker.ExecutorOption{
		worker.WithClock(eng.clock),
		worker.WithEmitter(eng.extensions),
		worker.WithLogger(logger),
		worker.WithProviders(eng.providers),
		worker.WithMiddleware(chain...),
	}
	if eng.renderer != nil {
		execOpts = append(execOpts, worker.WithRenderer(eng.renderer))
	}
	for t, h := range eng.handlers {
		execOpts = append(execOpts, worker.WithHandler(t, h))
	}
	eng.executor = worker.NewExecutor(s, eng.scheduler, execOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithPoolClock(eng.clock),
		worker.WithPoolLogger(logger),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithGate(eng.queueManager))
	}
	eng.pool = worker.NewPool(s, eng.executor, poolOpts...)

	eng.canceler = cancellation.New(s,
		cancellation.WithClock(eng.clock),
		cancellation.WithEmitter(eng.extensions),
		cancellation.WithLogger(logger),
	)
	return eng, nil
}

// TriggerResult describes the jobs a trigger created.
type TriggerResult struct {
	TransactionID string
	JobCount      int
	Jobs          []*job.Job
}

// Trigger compiles tpl for trg, persists the jobs and schedules the head of
// every subscriber's chain. Validation failures write nothing.
func (eng *Engine) Trigger(ctx context.Context, tpl *step.Template, trg trigger.Trigger) (*TriggerResult, error) {
	jobs, err := eng.compiler.Compile(ctx, tpl, trg)
	if err != nil {
		return nil, err
	}
	res := &TriggerResult{JobCount: len(jobs), Jobs: jobs}
	if len(jobs) > 0 {
		res.TransactionID = jobs[0].TransactionID
	}

	var errs []error
	for _, j := range jobs {
		if !j.PredecessorID.IsNil() {
			continue
		}
		if err := eng.scheduler.Schedule(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("schedule transaction %s: %w", res.TransactionID, err)
	}
	return res, nil
}

// Cancel cancels every job of the transaction that has not started and
// returns how many were canceled.
func (eng *Engine) Cancel(ctx context.Context, transactionID string) (int, error) {
	return eng.canceler.Cancel(ctx, transactionID)
}

// Execute runs one job through the executor.
func (eng *Engine) Execute(ctx context.Context, j *job.Job) (worker.Outcome, error) {
	return eng.executor.Execute(ctx, j)
}

// ReleaseDue queues delayed jobs whose wait has elapsed.
func (eng *Engine) ReleaseDue(ctx context.Context) (int, error) {
	return eng.scheduler.ReleaseDue(ctx)
}

// Drain executes ready jobs until none remain.
func (eng *Engine) Drain(ctx context.Context) (int, error) {
	return eng.pool.Drain(ctx)
}

// RunOnce releases due jobs and drains the ready queue. It returns the
// number of jobs released and executed.
func (eng *Engine) RunOnce(ctx context.Context) (released, executed int, err error) {
	released, err = eng.ReleaseDue(ctx)
	if err != nil {
		return released, 0, err
	}
	executed, err = eng.Drain(ctx)
	return released, executed, err
}

// Jobs returns the jobs of a transaction in chain order.
func (eng *Engine) Jobs(ctx context.Context, transactionID string) ([]*job.Job, error) {
	return eng.store.FindJobs(ctx, job.Filter{TransactionID: transactionID})
}

// Messages returns delivered messages matching f.
func (eng *Engine) Messages(ctx context.Context, f message.Filter) ([]*message.Message, error) {
	return eng.store.ListMessages(ctx, f)
}

// Start starts the scheduler loop and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return nil
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		_ = eng.scheduler.Stop(ctx)
		return fmt.Errorf("start worker pool: %w", err)
	}
	eng.running = true
	eng.logger.Info("courier engine started",
		slog.String("environment_id", eng.config.EnvironmentID),
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Any("channels", eng.providers.Channels()),
	)
	return nil
}

// Stop stops the worker pool, then the scheduler, and notifies extensions.
// Without a deadline on ctx the configured ShutdownTimeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.running {
		return nil
	}
	eng.running = false

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	poolErr := eng.pool.Stop(ctx)
	schedErr := eng.scheduler.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("courier engine stopped")
	return errors.Join(poolErr, schedErr)
}

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the effective configuration.
func (eng *Engine) Config() courier.Config { return eng.config }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Providers returns the channel provider registry.
func (eng *Engine) Providers() *provider.Registry { return eng.providers }

// Scheduler returns the scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// QueueManager returns the channel gate, or nil when no queue configs were
// provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
