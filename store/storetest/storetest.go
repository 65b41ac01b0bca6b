// Package storetest provides a conformance suite run against every
// store.Store backend.
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/store"
)

// Factory returns an empty, migrated store. It should register cleanup
// through t.
type Factory func(t *testing.T) store.Store

// base is truncated to milliseconds so every backend round-trips it exactly.
var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite. Each subtest gets its own store from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertDuplicateFingerprint", testInsertDuplicateFingerprint},
		{"GetUnknown", testGetUnknown},
		{"FindJobs", testFindJobs},
		{"CountJobs", testCountJobs},
		{"CompareAndSetStatus", testCompareAndSetStatus},
		{"TerminalImmutable", testTerminalImmutable},
		{"ConcurrentClaim", testConcurrentClaim},
		{"ListReadyJobs", testListReadyJobs},
		{"ListDueJobs", testListDueJobs},
		{"Messages", testMessages},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// Chain builds a pending chain for one subscriber over the given step types.
func Chain(txn, subscriber string, types ...step.Type) []*job.Job {
	tplID := id.NewTemplateID()
	jobs := make([]*job.Job, len(types))
	var prev id.JobID
	for i, typ := range types {
		j := &job.Job{
			Entity:        courier.NewEntityAt(base),
			ID:            id.NewJobID(),
			TemplateID:    tplID,
			TransactionID: txn,
			EnvironmentID: "test",
			SubscriberID:  subscriber,
			Type:          typ,
			Step:          step.Step{Type: typ, Content: "hello {{name}}"},
			Status:        job.StatusPending,
			Payload:       []byte(`{"name":"Ada"}`),
			StepIndex:     i,
			PredecessorID: prev,
		}
		if typ.IsDeferred() {
			at := base.Add(5 * time.Minute)
			j.AvailableAt = &at
			j.Step.Metadata = step.Metadata{Amount: 5, Unit: step.Minutes}
		}
		jobs[i] = j
		prev = j.ID
	}
	return jobs
}

func mustInsert(t *testing.T, s store.Store, jobs []*job.Job) {
	t.Helper()
	if err := s.InsertJobs(context.Background(), jobs); err != nil {
		t.Fatalf("InsertJobs: %v", err)
	}
}

func mustCAS(t *testing.T, s store.Store, jobID id.JobID, tr job.Transition) {
	t.Helper()
	ok, err := s.CompareAndSetStatus(context.Background(), jobID, tr)
	if err != nil {
		t.Fatalf("CompareAndSetStatus: %v", err)
	}
	if !ok {
		t.Fatalf("CompareAndSetStatus(%s -> %s) lost", jobID, tr.To)
	}
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-get", "alice", step.SMS, step.Delay, step.Email)
	mustInsert(t, s, jobs)

	got, err := s.GetJob(ctx, jobs[1].ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.TransactionID != "txn-get" || got.SubscriberID != "alice" {
		t.Errorf("got %+v", got)
	}
	if got.Type != step.Delay || got.StepIndex != 1 || got.Status != job.StatusPending {
		t.Errorf("type/index/status = %s/%d/%s", got.Type, got.StepIndex, got.Status)
	}
	if !got.PredecessorID.Equal(jobs[0].ID) {
		t.Errorf("predecessor = %s, want %s", got.PredecessorID, jobs[0].ID)
	}
	if got.AvailableAt == nil || !got.AvailableAt.Equal(*jobs[1].AvailableAt) {
		t.Errorf("available_at = %v, want %v", got.AvailableAt, jobs[1].AvailableAt)
	}
	if got.Step.Metadata.Amount != 5 || got.Step.Metadata.Unit != step.Minutes {
		t.Errorf("step snapshot = %+v", got.Step)
	}
	if string(got.Payload) != `{"name":"Ada"}` {
		t.Errorf("payload = %s", got.Payload)
	}

	head, err := s.GetJob(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("GetJob head: %v", err)
	}
	if !head.PredecessorID.IsNil() || head.AvailableAt != nil {
		t.Errorf("head predecessor/available_at = %s/%v", head.PredecessorID, head.AvailableAt)
	}
}

func testInsertDuplicateFingerprint(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustInsert(t, s, Chain("txn-dup", "alice", step.SMS))

	// Same transaction, step index and subscriber but a fresh ID, batched
	// with a job that would otherwise be accepted.
	dup := Chain("txn-dup", "alice", step.SMS)
	other := Chain("txn-dup", "bob", step.SMS)
	err := s.InsertJobs(ctx, append(other, dup...))
	if !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("InsertJobs duplicate = %v, want ErrJobAlreadyExists", err)
	}

	n, err := s.CountJobs(ctx, job.Filter{TransactionID: "txn-dup"})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("CountJobs = %d, want 1 (batch must be atomic)", n)
	}
}

func testGetUnknown(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, courier.ErrJobNotFound) {
		t.Errorf("GetJob unknown = %v, want ErrJobNotFound", err)
	}
	if _, err := s.FindOneJob(ctx, job.Filter{TransactionID: "nope"}); !errors.Is(err, courier.ErrJobNotFound) {
		t.Errorf("FindOneJob unknown = %v, want ErrJobNotFound", err)
	}
	ok, err := s.CompareAndSetStatus(ctx, id.NewJobID(), job.Claim(base))
	if ok || !errors.Is(err, courier.ErrJobNotFound) {
		t.Errorf("CompareAndSetStatus unknown = %v, %v", ok, err)
	}
}

func testFindJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := Chain("txn-find", "alice", step.SMS, step.Delay, step.SMS)
	bob := Chain("txn-find", "bob", step.SMS, step.Delay, step.SMS)
	mustInsert(t, s, append(append([]*job.Job{}, bob...), alice...))
	mustInsert(t, s, Chain("txn-other", "alice", step.SMS))

	all, err := s.FindJobs(ctx, job.Filter{TransactionID: "txn-find"})
	if err != nil {
		t.Fatalf("FindJobs: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("len = %d, want 6", len(all))
	}
	for i, want := range append(append([]*job.Job{}, alice...), bob...) {
		if !all[i].ID.Equal(want.ID) {
			t.Errorf("position %d = %s/%d, want %s/%d", i, all[i].SubscriberID, all[i].StepIndex, want.SubscriberID, want.StepIndex)
		}
	}

	next, err := s.FindOneJob(ctx, job.Filter{PredecessorID: alice[0].ID})
	if err != nil {
		t.Fatalf("FindOneJob by predecessor: %v", err)
	}
	if !next.ID.Equal(alice[1].ID) {
		t.Errorf("successor = %s, want %s", next.ID, alice[1].ID)
	}

	one := 1
	delays, err := s.FindJobs(ctx, job.Filter{TransactionID: "txn-find", StepIndex: &one, Types: []step.Type{step.Delay}})
	if err != nil {
		t.Fatalf("FindJobs delays: %v", err)
	}
	if len(delays) != 2 {
		t.Errorf("delay jobs = %d, want 2", len(delays))
	}

	limited, err := s.FindJobs(ctx, job.Filter{TransactionID: "txn-find", SubscriberID: "bob", Limit: 2})
	if err != nil {
		t.Fatalf("FindJobs limit: %v", err)
	}
	if len(limited) != 2 || limited[0].StepIndex != 0 {
		t.Errorf("limited = %d jobs", len(limited))
	}

	byID, err := s.FindJobs(ctx, job.Filter{IDs: []id.JobID{alice[2].ID, bob[0].ID}})
	if err != nil {
		t.Fatalf("FindJobs ids: %v", err)
	}
	if len(byID) != 2 {
		t.Errorf("by id = %d jobs, want 2", len(byID))
	}
}

func testCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-count", "alice", step.SMS, step.Delay, step.SMS)
	mustInsert(t, s, jobs)
	mustCAS(t, s, jobs[0].ID, job.Queue(job.StatusPending, base))

	tests := []struct {
		name string
		f    job.Filter
		want int64
	}{
		{"all", job.Filter{TransactionID: "txn-count"}, 3},
		{"exclude delay", job.Filter{TransactionID: "txn-count", ExcludeTypes: []step.Type{step.Delay}}, 2},
		{"queued", job.Filter{TransactionID: "txn-count", Statuses: []job.Status{job.StatusQueued}}, 1},
		{"active non-delay", job.Filter{
			TransactionID: "txn-count",
			Statuses:      []job.Status{job.StatusPending, job.StatusQueued, job.StatusRunning},
			ExcludeTypes:  []step.Type{step.Delay},
		}, 2},
		{"template", job.Filter{TemplateID: jobs[0].TemplateID}, 3},
		{"none", job.Filter{TransactionID: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CountJobs(ctx, tt.f)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountJobs = %d, want %d", got, tt.want)
			}
		})
	}
}

func testCompareAndSetStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-cas", "alice", step.SMS)
	mustInsert(t, s, jobs)
	jobID := jobs[0].ID

	// Wrong expected status: no change.
	ok, err := s.CompareAndSetStatus(ctx, jobID, job.Claim(base))
	if err != nil || ok {
		t.Fatalf("claim pending = %v, %v; want false, nil", ok, err)
	}

	queuedAt := base.Add(time.Second)
	mustCAS(t, s, jobID, job.Queue(job.StatusPending, queuedAt))
	startedAt := base.Add(2 * time.Second)
	mustCAS(t, s, jobID, job.Claim(startedAt))
	doneAt := base.Add(3 * time.Second)
	mustCAS(t, s, jobID, job.Fail(doneAt, "provider down"))

	got, err := s.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusFailed || got.LastError != "provider down" {
		t.Errorf("status/error = %s/%q", got.Status, got.LastError)
	}
	if got.QueuedAt == nil || !got.QueuedAt.Equal(queuedAt) {
		t.Errorf("queued_at = %v, want %v", got.QueuedAt, queuedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(startedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, startedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(doneAt) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, doneAt)
	}
}

func testTerminalImmutable(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-term", "alice", step.SMS, step.SMS)
	mustInsert(t, s, jobs)
	mustCAS(t, s, jobs[0].ID, job.Cancel(base))
	mustCAS(t, s, jobs[1].ID, job.Queue(job.StatusPending, base))
	mustCAS(t, s, jobs[1].ID, job.Claim(base))
	mustCAS(t, s, jobs[1].ID, job.Complete(base))

	all := []job.Status{
		job.StatusPending, job.StatusQueued, job.StatusDelayed, job.StatusRunning,
		job.StatusCompleted, job.StatusFailed, job.StatusCanceled,
	}
	for _, j := range jobs {
		for _, to := range all {
			ok, err := s.CompareAndSetStatus(ctx, j.ID, job.Transition{From: all, To: to, At: base})
			if err != nil {
				t.Fatalf("CompareAndSetStatus: %v", err)
			}
			if ok {
				t.Errorf("terminal job %d moved to %s", j.StepIndex, to)
			}
		}
	}
}

func testConcurrentClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-race", "alice", step.SMS)
	mustInsert(t, s, jobs)
	mustCAS(t, s, jobs[0].ID, job.Queue(job.StatusPending, base))

	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := job.Claim(base)
			if i%2 == 1 {
				tr = job.Cancel(base)
			}
			ok, err := s.CompareAndSetStatus(ctx, jobs[0].ID, tr)
			if err != nil {
				t.Errorf("CompareAndSetStatus: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

func testListReadyJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := Chain("txn-ready", "alice", step.SMS)
	second := Chain("txn-ready", "bob", step.SMS)
	canceled := Chain("txn-ready", "carol", step.SMS)
	future := Chain("txn-ready", "dave", step.SMS)
	notYet := base.Add(time.Hour)
	future[0].AvailableAt = &notYet
	pending := Chain("txn-ready", "erin", step.SMS)
	mustInsert(t, s, append(append(append(append(first, second...), canceled...), future...), pending...))

	mustCAS(t, s, second[0].ID, job.Queue(job.StatusPending, base.Add(2*time.Second)))
	mustCAS(t, s, first[0].ID, job.Queue(job.StatusPending, base.Add(time.Second)))
	mustCAS(t, s, canceled[0].ID, job.Queue(job.StatusPending, base))
	mustCAS(t, s, canceled[0].ID, job.Cancel(base))
	mustCAS(t, s, future[0].ID, job.Queue(job.StatusPending, base))

	ready, err := s.ListReadyJobs(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListReadyJobs: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("ready = %d jobs, want 2", len(ready))
	}
	if !ready[0].ID.Equal(first[0].ID) || !ready[1].ID.Equal(second[0].ID) {
		t.Errorf("ready order = %s, %s", ready[0].SubscriberID, ready[1].SubscriberID)
	}

	limited, err := s.ListReadyJobs(ctx, base.Add(time.Minute), 1)
	if err != nil {
		t.Fatalf("ListReadyJobs limit: %v", err)
	}
	if len(limited) != 1 || !limited[0].ID.Equal(first[0].ID) {
		t.Errorf("limited = %d jobs", len(limited))
	}

	later, err := s.ListReadyJobs(ctx, base.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListReadyJobs later: %v", err)
	}
	if len(later) != 3 {
		t.Errorf("ready after available_at = %d jobs, want 3", len(later))
	}
}

func testListDueJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := Chain("txn-due", "alice", step.Delay)
	b := Chain("txn-due", "bob", step.Digest)
	later := base.Add(time.Hour)
	b[0].AvailableAt = &later
	mustInsert(t, s, append(a, b...))
	mustCAS(t, s, a[0].ID, job.Defer(base))
	mustCAS(t, s, b[0].ID, job.Defer(base))

	due, err := s.ListDueJobs(ctx, base.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListDueJobs: %v", err)
	}
	if len(due) != 1 || !due[0].ID.Equal(a[0].ID) {
		t.Fatalf("due = %d jobs, want alice's delay", len(due))
	}

	all, err := s.ListDueJobs(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("ListDueJobs all: %v", err)
	}
	if len(all) != 2 || !all[0].ID.Equal(a[0].ID) {
		t.Errorf("all delayed = %d jobs", len(all))
	}

	mustCAS(t, s, a[0].ID, job.Queue(job.StatusDelayed, base.Add(10*time.Minute)))
	due, err = s.ListDueJobs(ctx, base.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListDueJobs after release: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("released job still listed as due")
	}
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobs := Chain("txn-msg", "alice", step.SMS, step.Email)

	msgs := make([]*message.Message, len(jobs))
	for i, j := range jobs {
		msgs[i] = &message.Message{
			ID:            id.NewMessageID(),
			JobID:         j.ID,
			TransactionID: j.TransactionID,
			TemplateID:    j.TemplateID,
			EnvironmentID: j.EnvironmentID,
			SubscriberID:  j.SubscriberID,
			Channel:       j.Type,
			Content:       "hello Ada",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if j.Type == step.Email {
			msgs[i].Subject = "Welcome"
		}
		if err := s.CreateMessage(ctx, msgs[i]); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	dup := *msgs[0]
	dup.ID = id.NewMessageID()
	if err := s.CreateMessage(ctx, &dup); !errors.Is(err, courier.ErrMessageAlreadyExists) {
		t.Errorf("duplicate CreateMessage = %v, want ErrMessageAlreadyExists", err)
	}

	list, err := s.ListMessages(ctx, message.Filter{TransactionID: "txn-msg"})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("messages = %d, want 2", len(list))
	}
	if !list[0].ID.Equal(msgs[0].ID) || list[1].Subject != "Welcome" {
		t.Errorf("unexpected messages: %+v", list)
	}
	if !list[1].CreatedAt.Equal(msgs[1].CreatedAt) {
		t.Errorf("created_at = %v, want %v", list[1].CreatedAt, msgs[1].CreatedAt)
	}

	n, err := s.CountMessages(ctx, message.Filter{Channel: step.Email})
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("email messages = %d, want 1", n)
	}

	byJob, err := s.ListMessages(ctx, message.Filter{JobID: jobs[0].ID})
	if err != nil {
		t.Fatalf("ListMessages by job: %v", err)
	}
	if len(byJob) != 1 {
		t.Errorf("messages for job = %d, want 1", len(byJob))
	}
}
