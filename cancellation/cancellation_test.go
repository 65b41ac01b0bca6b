package cancellation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/cancellation"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/storetest"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type canceledEvents struct {
	mu  sync.Mutex
	ids []string
}

func (e *canceledEvents) EmitJobCanceled(_ context.Context, j *job.Job) {
	e.mu.Lock()
	e.ids = append(e.ids, j.ID.String())
	e.mu.Unlock()
}

func setup(t *testing.T, types ...step.Type) (*memory.Store, []*job.Job) {
	t.Helper()
	s := memory.New()
	jobs := storetest.Chain("txn-1", "alice", types...)
	if err := s.InsertJobs(context.Background(), jobs); err != nil {
		t.Fatalf("InsertJobs: %v", err)
	}
	return s, jobs
}

func move(t *testing.T, s job.Store, j *job.Job, tr ...job.Transition) {
	t.Helper()
	for _, x := range tr {
		ok, err := s.CompareAndSetStatus(context.Background(), j.ID, x)
		if err != nil || !ok {
			t.Fatalf("CompareAndSetStatus(%s -> %s) = %v, %v", j.ID, x.To, ok, err)
		}
	}
}

func statuses(t *testing.T, s job.Store, jobs []*job.Job) []job.Status {
	t.Helper()
	out := make([]job.Status, len(jobs))
	for i, j := range jobs {
		got, err := s.GetJob(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		out[i] = got.Status
	}
	return out
}

func TestCancel_StatesCovered(t *testing.T) {
	s, jobs := setup(t, step.SMS, step.Delay, step.SMS, step.SMS)
	// completed, delayed, queued, pending
	move(t, s, jobs[0], job.Queue(job.StatusPending, start), job.Claim(start), job.Complete(start))
	move(t, s, jobs[1], job.Defer(start))
	move(t, s, jobs[2], job.Queue(job.StatusPending, start))

	ev := &canceledEvents{}
	c := cancellation.New(s, cancellation.WithClock(courier.NewManualClock(start)), cancellation.WithEmitter(ev))

	n, err := c.Cancel(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n != 3 {
		t.Errorf("canceled = %d, want 3", n)
	}
	want := []job.Status{job.StatusCompleted, job.StatusCanceled, job.StatusCanceled, job.StatusCanceled}
	got := statuses(t, s, jobs)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("job %d = %s, want %s", i, got[i], want[i])
		}
	}
	if len(ev.ids) != 3 {
		t.Errorf("canceled events = %d, want 3", len(ev.ids))
	}
}

func TestCancel_RunningJobFinishesChainStops(t *testing.T) {
	s, jobs := setup(t, step.SMS, step.SMS)
	move(t, s, jobs[0], job.Queue(job.StatusPending, start), job.Claim(start))

	c := cancellation.New(s)
	n, err := c.Cancel(context.Background(), "txn-1")
	if err != nil || n != 1 {
		t.Fatalf("Cancel = %d, %v; want 1, nil", n, err)
	}

	got := statuses(t, s, jobs)
	if got[0] != job.StatusRunning || got[1] != job.StatusCanceled {
		t.Fatalf("statuses = %v, want [running canceled]", got)
	}

	// The running job may still complete; its successor cannot be queued.
	move(t, s, jobs[0], job.Complete(start))
	ok, err := s.CompareAndSetStatus(context.Background(), jobs[1].ID, job.Queue(job.StatusPending, start))
	if err != nil || ok {
		t.Errorf("queue canceled successor = %v, %v; want false, nil", ok, err)
	}
}

func TestCancel_Idempotent(t *testing.T) {
	s, _ := setup(t, step.SMS, step.SMS)
	c := cancellation.New(s)

	if n, err := c.Cancel(context.Background(), "txn-1"); err != nil || n != 2 {
		t.Fatalf("first Cancel = %d, %v", n, err)
	}
	if n, err := c.Cancel(context.Background(), "txn-1"); err != nil || n != 0 {
		t.Fatalf("second Cancel = %d, %v; want 0, nil", n, err)
	}
}

func TestCancel_AllTerminal(t *testing.T) {
	s, jobs := setup(t, step.SMS)
	move(t, s, jobs[0], job.Queue(job.StatusPending, start), job.Claim(start), job.Fail(start, "x"))

	n, err := cancellation.New(s).Cancel(context.Background(), "txn-1")
	if err != nil || n != 0 {
		t.Errorf("Cancel = %d, %v; want 0, nil", n, err)
	}
}

func TestCancel_UnknownTransaction(t *testing.T) {
	s, _ := setup(t, step.SMS)
	n, err := cancellation.New(s).Cancel(context.Background(), "nope")
	if !errors.Is(err, courier.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
	if n != 0 {
		t.Errorf("canceled = %d, want 0", n)
	}
}

func TestCancel_EmptyTransactionID(t *testing.T) {
	s, jobs := setup(t, step.SMS)
	_, err := cancellation.New(s).Cancel(context.Background(), "")
	if !errors.Is(err, courier.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if got := statuses(t, s, jobs); got[0] != job.StatusPending {
		t.Errorf("status = %s, want pending", got[0])
	}
}

func TestCancel_ConcurrentWithClaim(t *testing.T) {
	for range 20 {
		s, jobs := setup(t, step.SMS)
		move(t, s, jobs[0], job.Queue(job.StatusPending, start))
		c := cancellation.New(s)

		var (
			wg       sync.WaitGroup
			claimed  bool
			canceled int
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			claimed, _ = s.CompareAndSetStatus(context.Background(), jobs[0].ID, job.Claim(start))
		}()
		go func() {
			defer wg.Done()
			canceled, _ = c.Cancel(context.Background(), "txn-1")
		}()
		wg.Wait()

		if claimed == (canceled == 1) {
			t.Fatalf("claimed=%v canceled=%d; exactly one must win", claimed, canceled)
		}
	}
}
