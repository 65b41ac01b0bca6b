package worker_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/provider"
	"github.com/xraph/courier/scheduler"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/storetest"
	"github.com/xraph/courier/worker"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type events struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    []error
	sent      []*message.Message
}

func (e *events) EmitJobStarted(context.Context, *job.Job) {
	e.mu.Lock()
	e.started++
	e.mu.Unlock()
}

func (e *events) EmitJobCompleted(context.Context, *job.Job, time.Duration) {
	e.mu.Lock()
	e.completed++
	e.mu.Unlock()
}

func (e *events) EmitJobFailed(_ context.Context, _ *job.Job, err error) {
	e.mu.Lock()
	e.failed = append(e.failed, err)
	e.mu.Unlock()
}

func (e *events) EmitMessageSent(_ context.Context, m *message.Message) {
	e.mu.Lock()
	e.sent = append(e.sent, m)
	e.mu.Unlock()
}

type fixture struct {
	store     *memory.Store
	clock     *courier.ManualClock
	recorder  *provider.Recorder
	events    *events
	scheduler *scheduler.Scheduler
	jobs      []*job.Job
}

func newFixture(t *testing.T, types ...step.Type) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		clock:    courier.NewManualClock(start),
		recorder: provider.NewRecorder(),
		events:   &events{},
		jobs:     storetest.Chain("txn-1", "alice", types...),
	}
	if err := f.store.InsertJobs(context.Background(), f.jobs); err != nil {
		t.Fatalf("InsertJobs: %v", err)
	}
	f.scheduler = scheduler.New(f.store, scheduler.WithClock(f.clock))
	return f
}

func (f *fixture) executor(opts ...worker.ExecutorOption) *worker.Executor {
	providers := provider.NewRegistry()
	providers.RegisterAll(f.recorder)
	base := []worker.ExecutorOption{
		worker.WithClock(f.clock),
		worker.WithEmitter(f.events),
		worker.WithProviders(providers),
	}
	return worker.NewExecutor(f.store, f.scheduler, append(base, opts...)...)
}

// queued schedules the chain head and returns it.
func (f *fixture) queued(t *testing.T) *job.Job {
	t.Helper()
	head := f.jobs[0]
	if err := f.scheduler.Schedule(context.Background(), head); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if head.IsDeferred() {
		f.clock.Advance(5 * time.Minute)
		if _, err := f.scheduler.ReleaseDue(context.Background()); err != nil {
			t.Fatalf("ReleaseDue: %v", err)
		}
	}
	got, err := f.store.GetJob(context.Background(), head.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

func (f *fixture) status(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	got, err := f.store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

func TestExecute_DeliversAndSchedulesSuccessor(t *testing.T) {
	f := newFixture(t, step.SMS, step.Email)
	head := f.queued(t)

	outcome, err := f.executor().Execute(context.Background(), head)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", outcome)
	}

	if got := f.status(t, head); got.Status != job.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("head = %s completed_at=%v, want completed with timestamp", got.Status, got.CompletedAt)
	}
	if got := f.status(t, f.jobs[1]); got.Status != job.StatusQueued {
		t.Errorf("successor = %s, want queued", got.Status)
	}

	deliveries := f.recorder.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	if d := deliveries[0]; d.Content != "hello Ada" || d.Channel != step.SMS || d.SubscriberID != "alice" {
		t.Errorf("delivery = %+v", d)
	}

	msgs, err := f.store.ListMessages(context.Background(), message.Filter{JobID: head.ID})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello Ada" {
		t.Fatalf("messages = %+v, want one rendered message", msgs)
	}
	if !msgs[0].ID.Equal(deliveries[0].MessageID) {
		t.Error("persisted message id differs from delivered id")
	}

	if f.events.started != 1 || f.events.completed != 1 || len(f.events.sent) != 1 {
		t.Errorf("events started=%d completed=%d sent=%d", f.events.started, f.events.completed, len(f.events.sent))
	}
}

func TestExecute_RendersSubject(t *testing.T) {
	f := newFixture(t, step.Email)
	head := f.queued(t)
	head.Step.Subject = "hi {{name}}"

	if _, err := f.executor().Execute(context.Background(), head); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := f.recorder.Deliveries()[0].Subject; got != "hi Ada" {
		t.Errorf("subject = %q, want %q", got, "hi Ada")
	}
}

func TestExecute_ClaimLostAborts(t *testing.T) {
	f := newFixture(t, step.SMS)
	head := f.jobs[0] // still pending

	outcome, err := f.executor().Execute(context.Background(), head)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome != worker.OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", outcome)
	}
	if got := f.status(t, head); got.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if f.recorder.Len() != 0 || f.events.started != 0 {
		t.Error("aborted execution had side effects")
	}
}

func TestExecute_DeferredPassesThrough(t *testing.T) {
	f := newFixture(t, step.Delay, step.SMS)
	head := f.queued(t)

	outcome, err := f.executor().Execute(context.Background(), head)
	if err != nil || outcome != worker.OutcomeCompleted {
		t.Fatalf("Execute = %s, %v", outcome, err)
	}
	if f.recorder.Len() != 0 {
		t.Error("delay step delivered a message")
	}
	if got := f.status(t, f.jobs[1]); got.Status != job.StatusQueued {
		t.Errorf("successor = %s, want queued", got.Status)
	}
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name  string
		opts  []worker.ExecutorOption
		setup func(f *fixture)
		stage string
	}{
		{
			name:  "no provider",
			opts:  []worker.ExecutorOption{worker.WithProviders(provider.NewRegistry())},
			stage: courier.StageDispatch,
		},
		{
			name: "provider error",
			setup: func(f *fixture) {
				f.recorder.Fail = func(provider.Delivery) error { return errors.New("gateway down") }
			},
			stage: courier.StageDeliver,
		},
		{
			name: "render error",
			opts: []worker.ExecutorOption{worker.WithRenderer(provider.RendererFunc(
				func(string, map[string]any) (string, error) { return "", provider.ErrRender },
			))},
			stage: courier.StageRender,
		},
		{
			name: "handler panic",
			opts: []worker.ExecutorOption{worker.WithHandler(step.SMS, worker.HandlerFunc(
				func(context.Context, *job.Job) error { panic("boom") },
			))},
			stage: courier.StageDispatch,
		},
		{
			name: "bare execution error",
			opts: []worker.ExecutorOption{worker.WithHandler(step.SMS, worker.HandlerFunc(
				func(context.Context, *job.Job) error { return &courier.ExecutionError{} },
			))},
			stage: courier.StageDispatch,
		},
		{
			name: "execution error without cause",
			opts: []worker.ExecutorOption{worker.WithHandler(step.SMS, worker.HandlerFunc(
				func(context.Context, *job.Job) error { return &courier.ExecutionError{Stage: courier.StageDeliver} },
			))},
			stage: courier.StageDeliver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, step.SMS, step.SMS)
			if tt.setup != nil {
				tt.setup(f)
			}
			head := f.queued(t)

			outcome, err := f.executor(tt.opts...).Execute(context.Background(), head)
			if outcome != worker.OutcomeFailed {
				t.Fatalf("outcome = %s, want failed", outcome)
			}
			var execErr *courier.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("err = %v, want *courier.ExecutionError", err)
			}
			if !errors.Is(err, courier.ErrExecution) {
				t.Error("errors.Is(err, ErrExecution) = false")
			}
			if execErr.Stage != tt.stage {
				t.Errorf("stage = %s, want %s", execErr.Stage, tt.stage)
			}
			if !execErr.JobID.Equal(head.ID) {
				t.Errorf("JobID = %s, want %s", execErr.JobID, head.ID)
			}

			got := f.status(t, head)
			if got.Status != job.StatusFailed || got.LastError == "" {
				t.Errorf("head = %s last_error=%q, want failed with error", got.Status, got.LastError)
			}
			if got := f.status(t, f.jobs[1]); got.Status != job.StatusPending {
				t.Errorf("successor = %s, want pending", got.Status)
			}
			if n, _ := f.store.CountMessages(context.Background(), message.Filter{}); n != 0 {
				t.Errorf("messages = %d, want 0", n)
			}
			if len(f.events.failed) != 1 {
				t.Errorf("failed events = %d, want 1", len(f.events.failed))
			}
		})
	}
}

// completionFailStore errors on every attempt to complete a job.
type completionFailStore struct {
	*memory.Store
}

func (s completionFailStore) CompareAndSetStatus(ctx context.Context, jobID id.JobID, t job.Transition) (bool, error) {
	if t.To == job.StatusCompleted {
		return false, errors.New("connection reset")
	}
	return s.Store.CompareAndSetStatus(ctx, jobID, t)
}

func TestExecute_CompletionStoreErrorIsLogged(t *testing.T) {
	f := newFixture(t, step.SMS, step.SMS)
	head := f.queued(t)

	var logs bytes.Buffer
	providers := provider.NewRegistry()
	providers.RegisterAll(f.recorder)
	exec := worker.NewExecutor(completionFailStore{f.store}, f.scheduler,
		worker.WithClock(f.clock),
		worker.WithProviders(providers),
		worker.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	outcome, err := exec.Execute(context.Background(), head)
	if outcome != worker.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	var execErr *courier.ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != courier.StagePersist {
		t.Fatalf("err = %v, want persist ExecutionError", err)
	}
	for _, want := range []string{"level=ERROR", "record completion", "job_id=" + head.ID.String()} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}
	if got := f.status(t, head); got.Status != job.StatusRunning {
		t.Errorf("head = %s, want running", got.Status)
	}
	if got := f.status(t, f.jobs[1]); got.Status != job.StatusPending {
		t.Errorf("successor = %s, want pending", got.Status)
	}
}

func TestExecute_PanicMessageRecorded(t *testing.T) {
	f := newFixture(t, step.SMS)
	head := f.queued(t)
	exec := f.executor(worker.WithHandler(step.SMS, worker.HandlerFunc(
		func(context.Context, *job.Job) error { panic("boom") },
	)))

	if _, err := exec.Execute(context.Background(), head); err == nil {
		t.Fatal("expected error")
	}
	if got := f.status(t, head); !strings.Contains(got.LastError, "boom") {
		t.Errorf("LastError = %q, want the panic value", got.LastError)
	}
}

func TestExecute_DuplicateMessageCountsAsDelivered(t *testing.T) {
	f := newFixture(t, step.SMS)
	head := f.queued(t)
	prior := &message.Message{
		ID:            id.NewMessageID(),
		JobID:         head.ID,
		TransactionID: head.TransactionID,
		SubscriberID:  head.SubscriberID,
		Channel:       step.SMS,
		Content:       "hello Ada",
		CreatedAt:     start,
	}
	if err := f.store.CreateMessage(context.Background(), prior); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	outcome, err := f.executor().Execute(context.Background(), head)
	if err != nil || outcome != worker.OutcomeCompleted {
		t.Fatalf("Execute = %s, %v", outcome, err)
	}
	if n, _ := f.store.CountMessages(context.Background(), message.Filter{JobID: head.ID}); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
	if len(f.events.sent) != 0 {
		t.Error("duplicate message emitted MessageSent")
	}
}

func TestExecute_ConcurrentClaimRunsOnce(t *testing.T) {
	f := newFixture(t, step.SMS)
	head := f.queued(t)
	exec := f.executor()

	const n = 16
	outcomes := make([]worker.Outcome, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = exec.Execute(context.Background(), head.Clone())
		}()
	}
	wg.Wait()

	completed := 0
	for _, o := range outcomes {
		switch o {
		case worker.OutcomeCompleted:
			completed++
		case worker.OutcomeAborted:
		default:
			t.Errorf("unexpected outcome %s", o)
		}
	}
	if completed != 1 {
		t.Errorf("completed = %d, want exactly 1", completed)
	}
	if f.recorder.Len() != 1 {
		t.Errorf("deliveries = %d, want 1", f.recorder.Len())
	}
}
