package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ message.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs         map[string]*job.Job
	fingerprints map[string]string // fingerprint -> job ID
	messages     map[string]*message.Message
	messageByJob map[string]string // job ID -> message ID
	closed       bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]*job.Job),
		fingerprints: make(map[string]string),
		messages:     make(map[string]*message.Message),
		messageByJob: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return courier.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// InsertJobs persists a batch of new jobs. Either every job is stored or
// none is.
func (m *Store) InsertJobs(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		key := j.ID.String()
		fp := j.Fingerprint()
		if _, exists := m.jobs[key]; exists {
			return courier.ErrJobAlreadyExists
		}
		if _, exists := m.fingerprints[fp]; exists {
			return courier.ErrJobAlreadyExists
		}
		if _, dup := batch[key]; dup {
			return courier.ErrJobAlreadyExists
		}
		if _, dup := batch[fp]; dup {
			return courier.ErrJobAlreadyExists
		}
		batch[key] = struct{}{}
		batch[fp] = struct{}{}
	}

	for _, j := range jobs {
		m.jobs[j.ID.String()] = j.Clone()
		m.fingerprints[j.Fingerprint()] = j.ID.String()
	}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindOneJob returns the first matching job in chain order.
func (m *Store) FindOneJob(ctx context.Context, f job.Filter) (*job.Job, error) {
	f.Limit = 1
	jobs, err := m.FindJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, courier.ErrJobNotFound
	}
	return jobs[0], nil
}

// FindJobs returns matching jobs ordered by subscriber then step index.
func (m *Store) FindJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := m.match(f)
	slices.SortFunc(result, job.CompareChain)
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	for i, j := range result {
		result[i] = j.Clone()
	}
	return result, nil
}

// CountJobs returns the number of matching jobs.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.match(f))), nil
}

// CompareAndSetStatus applies t if the job's status is one of t.From.
func (m *Store) CompareAndSetStatus(_ context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, courier.ErrJobNotFound
	}
	if !t.Allows(j.Status) {
		return false, nil
	}
	t.Apply(j)
	return true, nil
}

// ListReadyJobs returns queued jobs available at now in dequeue order.
func (m *Store) ListReadyJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Ready(now) {
			result = append(result, j)
		}
	}
	return m.window(result, job.CompareReady, limit), nil
}

// ListDueJobs returns delayed jobs due at before, earliest first.
func (m *Store) ListDueJobs(_ context.Context, before time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusDelayed {
			continue
		}
		if !before.IsZero() && !j.Due(before) {
			continue
		}
		result = append(result, j)
	}
	return m.window(result, job.CompareDue, limit), nil
}

// match must be called with m.mu held.
func (m *Store) match(f job.Filter) []*job.Job {
	var result []*job.Job
	for _, j := range m.jobs {
		if f.Match(j) {
			result = append(result, j)
		}
	}
	return result
}

// window sorts, limits and copies jobs. Must be called with m.mu held.
func (m *Store) window(jobs []*job.Job, cmp func(a, b *job.Job) int, limit int) []*job.Job {
	slices.SortFunc(jobs, cmp)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		out[i] = j.Clone()
	}
	return out
}

// ──────────────────────────────────────────────────
// Message Store
// ──────────────────────────────────────────────────

// CreateMessage persists a message, at most one per job.
func (m *Store) CreateMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messageByJob[msg.JobID.String()]; exists {
		return courier.ErrMessageAlreadyExists
	}
	if _, exists := m.messages[msg.ID.String()]; exists {
		return courier.ErrMessageAlreadyExists
	}
	cp := *msg
	m.messages[msg.ID.String()] = &cp
	m.messageByJob[msg.JobID.String()] = msg.ID.String()
	return nil
}

// ListMessages returns matching messages ordered by creation time.
func (m *Store) ListMessages(_ context.Context, f message.Filter) ([]*message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*message.Message
	for _, msg := range m.messages {
		if f.Match(msg) {
			cp := *msg
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *message.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// CountMessages returns the number of matching messages.
func (m *Store) CountMessages(_ context.Context, f message.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, msg := range m.messages {
		if f.Match(msg) {
			n++
		}
	}
	return n, nil
}
