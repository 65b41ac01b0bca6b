package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
)

// Gate limits how many jobs of a channel run at once and how often they
// start. queue.Manager satisfies it.
type Gate interface {
	// Acquire reports whether a job of channel may start now.
	Acquire(channel step.Type) bool
	// Release frees the slot taken by a successful Acquire.
	Release(channel step.Type)
}

// Pool runs executor loops that poll the store's ready queue.
type Pool struct {
	store        job.Store
	executor     *Executor
	clock        courier.Clock
	concurrency  int
	pollInterval time.Duration
	backoff      backoff.Strategy
	gate         Gate
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu   sync.Mutex
	inflight   map[string]struct{}
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle loop waits before polling again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithBackoff sets the delay strategy after consecutive store errors.
func WithBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.backoff = s }
}

// WithGate sets the per-channel gate.
func WithGate(g Gate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// WithPoolClock sets the clock used to list ready jobs.
func WithPoolClock(c courier.Clock) PoolOption {
	return func(p *Pool) { p.clock = c }
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		clock:        courier.SystemClock(),
		concurrency:  10,
		pollInterval: 500 * time.Millisecond,
		backoff:      backoff.DefaultStrategy(),
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		inflight:     make(map[string]struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the pool's identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// InFlight returns the number of jobs this pool is executing.
func (p *Pool) InFlight() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.inflight)
}

// Start launches the loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop(p.stopCh)
	}
	return nil
}

// Stop signals the loops to stop and waits for running jobs to finish. When
// ctx is done first, running jobs have their contexts canceled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, canceling active jobs")
		p.cancelActiveJobs()
		<-done
		return ctx.Err()
	}
}

// Drain executes ready jobs on the calling goroutine until none remain,
// including successors queued along the way. It returns the number of jobs
// executed. Step failures are logged and counted; only store errors stop the
// drain.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		j, err := p.next(ctx)
		if err != nil {
			return n, err
		}
		if j == nil {
			return n, nil
		}
		outcome, err := p.run(ctx, j)
		if outcome != OutcomeAborted {
			n++
		}
		if err != nil && !errors.Is(err, courier.ErrExecution) {
			return n, err
		}
	}
}

func (p *Pool) loop(stop <-chan struct{}) {
	defer p.wg.Done()

	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		j, err := p.next(context.Background())
		if err != nil {
			failures++
			p.logger.Error("list ready jobs failed",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()),
			)
			p.sleep(stop, p.backoff.Delay(failures))
			continue
		}
		failures = 0
		if j == nil {
			p.sleep(stop, p.pollInterval)
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackCancel(j.ID.String(), cancel)
		if _, err := p.run(ctx, j); err != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("transaction_id", j.TransactionID),
				slog.String("error", err.Error()),
			)
		}
		p.untrackCancel(j.ID.String())
		cancel()
	}
}

// next picks the first ready job that is not already executing here and
// passes the channel gate. The job is reserved until run releases it. A
// refused job stays queued for a later poll.
func (p *Pool) next(ctx context.Context) (*job.Job, error) {
	ready, err := p.store.ListReadyJobs(ctx, p.clock.Now(), p.concurrency)
	if err != nil {
		return nil, err
	}
	for _, j := range ready {
		if !p.reserve(j.ID.String()) {
			continue
		}
		if p.gate != nil && !p.gate.Acquire(j.Type) {
			p.unreserve(j.ID.String())
			p.logger.Debug("job held by channel gate",
				slog.String("job_id", j.ID.String()),
				slog.String("step_type", string(j.Type)),
			)
			continue
		}
		return j, nil
	}
	return nil, nil
}

func (p *Pool) run(ctx context.Context, j *job.Job) (Outcome, error) {
	defer func() {
		if p.gate != nil {
			p.gate.Release(j.Type)
		}
		p.unreserve(j.ID.String())
	}()
	return p.executor.Execute(ctx, j)
}

func (p *Pool) sleep(stop <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}

func (p *Pool) reserve(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if _, ok := p.inflight[jobID]; ok {
		return false
	}
	p.inflight[jobID] = struct{}{}
	return true
}

func (p *Pool) unreserve(jobID string) {
	p.activeMu.Lock()
	delete(p.inflight, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) trackCancel(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackCancel(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("canceling active job", slog.String("job_id", jobID))
		cancel()
	}
}
