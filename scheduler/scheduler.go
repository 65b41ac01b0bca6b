package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

// Emitter receives scheduling events. ext.Registry satisfies it.
type Emitter interface {
	EmitJobQueued(ctx context.Context, j *job.Job)
	EmitJobDelayed(ctx context.Context, j *job.Job, until time.Time)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock.
func WithClock(c courier.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSweepInterval bounds how long the loop sleeps between store sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.sweepInterval = d }
}

// WithSweepBatch caps the number of due jobs a single sweep loads.
func WithSweepBatch(n int) Option {
	return func(s *Scheduler) { s.sweepBatch = n }
}

// Scheduler moves pending jobs to queued or delayed and releases delayed
// jobs when they come due.
type Scheduler struct {
	store         job.Store
	clock         courier.Clock
	emitter       Emitter
	logger        *slog.Logger
	sweepInterval time.Duration
	sweepBatch    int

	mu      sync.Mutex
	due     dueHeap
	parked  map[string]struct{}
	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates a Scheduler over store.
func New(store job.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		clock:         courier.SystemClock(),
		logger:        slog.Default(),
		sweepInterval: 5 * time.Second,
		sweepBatch:    500,
		parked:        make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule makes j eligible: a channel job is queued immediately, a deferred
// job is delayed until its AvailableAt. j is updated in place on success. A
// job that is no longer pending is left alone and Schedule returns nil.
func (s *Scheduler) Schedule(ctx context.Context, j *job.Job) error {
	now := s.clock.Now()

	if !j.IsDeferred() {
		t := job.Queue(job.StatusPending, now)
		ok, err := s.store.CompareAndSetStatus(ctx, j.ID, t)
		if err != nil {
			return fmt.Errorf("queue job %s: %w", j.ID, err)
		}
		if !ok {
			s.lostRace(j, job.StatusQueued)
			return nil
		}
		t.Apply(j)
		s.logger.Debug("job queued",
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
			slog.String("step_type", string(j.Type)),
		)
		if s.emitter != nil {
			s.emitter.EmitJobQueued(ctx, j)
		}
		return nil
	}

	if j.AvailableAt == nil {
		return fmt.Errorf("%w: %s job %s has no available_at", courier.ErrInvalidJob, j.Type, j.ID)
	}
	t := job.Defer(now)
	ok, err := s.store.CompareAndSetStatus(ctx, j.ID, t)
	if err != nil {
		return fmt.Errorf("delay job %s: %w", j.ID, err)
	}
	if !ok {
		s.lostRace(j, job.StatusDelayed)
		return nil
	}
	t.Apply(j)
	s.park(j.Clone())
	s.logger.Debug("job delayed",
		slog.String("job_id", j.ID.String()),
		slog.String("transaction_id", j.TransactionID),
		slog.String("step_type", string(j.Type)),
		slog.Time("available_at", *j.AvailableAt),
	)
	if s.emitter != nil {
		s.emitter.EmitJobDelayed(ctx, j, *j.AvailableAt)
	}
	return nil
}

// ReleaseDue moves every delayed job due at the clock's current time to
// queued and returns how many it moved. Jobs are taken from the heap and from
// a store sweep; each is released at most once.
func (s *Scheduler) ReleaseDue(ctx context.Context) (int, error) {
	now := s.clock.Now()

	candidates := s.popDue(now)
	seen := make(map[string]struct{}, len(candidates))
	for _, j := range candidates {
		seen[j.ID.String()] = struct{}{}
	}

	swept, err := s.store.ListDueJobs(ctx, now, s.sweepBatch)
	if err != nil {
		s.logger.Warn("due job sweep failed", slog.String("error", err.Error()))
	}
	for _, j := range swept {
		if _, dup := seen[j.ID.String()]; dup {
			continue
		}
		seen[j.ID.String()] = struct{}{}
		candidates = append(candidates, j)
	}

	var (
		released int
		errs     []error
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("sweep due jobs: %w", err))
	}
	for _, j := range candidates {
		t := job.Queue(job.StatusDelayed, now)
		ok, casErr := s.store.CompareAndSetStatus(ctx, j.ID, t)
		switch {
		case errors.Is(casErr, courier.ErrJobNotFound):
			continue
		case casErr != nil:
			errs = append(errs, fmt.Errorf("release job %s: %w", j.ID, casErr))
			continue
		case !ok:
			// Canceled while waiting, or released elsewhere.
			continue
		}
		t.Apply(j)
		released++
		s.logger.Debug("delayed job released",
			slog.String("job_id", j.ID.String()),
			slog.String("transaction_id", j.TransactionID),
		)
		if s.emitter != nil {
			s.emitter.EmitJobQueued(ctx, j)
		}
	}
	return released, errors.Join(errs...)
}

// Start rebuilds the heap from the store's delayed jobs and launches the
// release loop. It returns immediately after recovery.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	delayed, err := s.store.ListDueJobs(ctx, time.Time{}, 0)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("recover delayed jobs: %w", err)
	}
	for _, j := range delayed {
		s.park(j)
	}
	s.logger.Info("scheduler starting",
		slog.Int("recovered", len(delayed)),
		slog.Duration("sweep_interval", s.sweepInterval),
	)

	s.wg.Add(1)
	go s.loop(s.stopCh)
	return nil
}

// Stop halts the release loop and discards the heap. The store keeps every
// delayed job, so a later Start picks them up again.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("scheduler shutdown timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.due = nil
	clear(s.parked)
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
	return nil
}

// Pending returns the number of delayed jobs parked in the heap.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due.Len()
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.wake:
		case <-timer.C:
			if n, err := s.ReleaseDue(ctx); err != nil {
				s.logger.Error("release due jobs", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Debug("released due jobs", slog.Int("count", n))
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWait())
	}
}

// nextWait is the time until the earliest parked entry, capped at the sweep
// interval.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.sweepInterval
	if len(s.due) > 0 {
		if d := s.due[0].at.Sub(s.clock.Now()); d < wait {
			wait = max(d, 0)
		}
	}
	return wait
}

func (s *Scheduler) park(j *job.Job) {
	if j.AvailableAt == nil {
		return
	}
	key := j.ID.String()
	s.mu.Lock()
	if _, ok := s.parked[key]; !ok {
		s.parked[key] = struct{}{}
		heap.Push(&s.due, entry{at: *j.AvailableAt, job: j})
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) popDue(now time.Time) []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for len(s.due) > 0 && !s.due[0].at.After(now) {
		e := heap.Pop(&s.due).(entry)
		delete(s.parked, e.job.ID.String())
		out = append(out, e.job)
	}
	return out
}

func (s *Scheduler) lostRace(j *job.Job, to job.Status) {
	s.logger.Debug("job no longer pending, not scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("transaction_id", j.TransactionID),
		slog.String("target", string(to)),
	)
}
