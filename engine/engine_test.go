package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/courier"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
	"github.com/xraph/courier/provider"
	"github.com/xraph/courier/step"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/trigger"
	"github.com/xraph/courier/worker"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	eng      *engine.Engine
	store    *memory.Store
	clock    *courier.ManualClock
	recorder *provider.Recorder
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		clock:    courier.NewManualClock(start),
		recorder: provider.NewRecorder(),
	}
	base := []engine.Option{
		engine.WithClock(h.clock),
		engine.WithConfig(courier.Config{Concurrency: 2, PollInterval: 5 * time.Millisecond}),
	}
	for _, ch := range []step.Type{step.SMS, step.Email, step.Push, step.InApp, step.Chat} {
		base = append(base, engine.WithProvider(ch, h.recorder))
	}
	eng, err := engine.New(h.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.eng = eng
	return h
}

func (h *harness) jobs(t *testing.T, txn string) []*job.Job {
	t.Helper()
	jobs, err := h.eng.Jobs(context.Background(), txn)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	return jobs
}

func (h *harness) statuses(t *testing.T, txn, subscriber string) []job.Status {
	t.Helper()
	var out []job.Status
	for _, j := range h.jobs(t, txn) {
		if j.SubscriberID == subscriber {
			out = append(out, j.Status)
		}
	}
	return out
}

func equalStatuses(a, b []job.Status) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func smsDelaySMS() *step.Template {
	return &step.Template{
		ID:   id.NewTemplateID(),
		Name: "welcome",
		Steps: []step.Step{
			{Type: step.SMS, Content: "Hi {{name}}"},
			{Type: step.Delay, Metadata: step.Metadata{Amount: 5, Unit: step.Minutes}},
			{Type: step.SMS, Content: "Still there, {{name}}?"},
		},
	}
}

func welcome(tpl *step.Template, to ...string) trigger.Trigger {
	return trigger.Trigger{
		TransactionID: "txn-1",
		TemplateID:    tpl.ID,
		To:            to,
		Payload:       map[string]any{"name": "Ada"},
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, courier.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestNew_ConfigDefaults(t *testing.T) {
	eng, err := engine.New(memory.New(), engine.WithConfig(courier.Config{Concurrency: 3}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := eng.Config()
	def := courier.DefaultConfig()
	if cfg.Concurrency != 3 || cfg.PollInterval != def.PollInterval || cfg.EnvironmentID != def.EnvironmentID {
		t.Errorf("config = %+v", cfg)
	}
}

func TestTrigger_SMSDelaySMS(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl := smsDelaySMS()

	res, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice", "bob"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if res.TransactionID != "txn-1" || res.JobCount != 6 {
		t.Fatalf("result = %s/%d, want txn-1/6", res.TransactionID, res.JobCount)
	}
	for _, sub := range []string{"alice", "bob"} {
		want := []job.Status{job.StatusQueued, job.StatusPending, job.StatusPending}
		if got := h.statuses(t, "txn-1", sub); !equalStatuses(got, want) {
			t.Fatalf("%s after trigger = %v, want %v", sub, got, want)
		}
	}

	if n, err := h.eng.Drain(ctx); err != nil || n != 2 {
		t.Fatalf("first Drain = %d, %v; want 2", n, err)
	}
	for _, sub := range []string{"alice", "bob"} {
		want := []job.Status{job.StatusCompleted, job.StatusDelayed, job.StatusPending}
		if got := h.statuses(t, "txn-1", sub); !equalStatuses(got, want) {
			t.Fatalf("%s after first drain = %v, want %v", sub, got, want)
		}
	}

	h.clock.Advance(4 * time.Minute)
	if released, executed, err := h.eng.RunOnce(ctx); err != nil || released != 0 || executed != 0 {
		t.Fatalf("RunOnce before due = %d/%d, %v; want 0/0", released, executed, err)
	}

	h.clock.Advance(time.Minute)
	released, executed, err := h.eng.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if released != 2 || executed != 4 {
		t.Fatalf("RunOnce = %d released, %d executed; want 2, 4", released, executed)
	}

	for _, j := range h.jobs(t, "txn-1") {
		if j.Status != job.StatusCompleted {
			t.Errorf("%s step %d = %s, want completed", j.SubscriberID, j.StepIndex, j.Status)
		}
	}

	msgs, err := h.eng.Messages(ctx, message.Filter{TransactionID: "txn-1", SubscriberID: "alice"})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Hi Ada" || msgs[1].Content != "Still there, Ada?" {
		t.Fatalf("alice messages = %+v", msgs)
	}
	if h.recorder.Len() != 4 {
		t.Errorf("deliveries = %d, want 4", h.recorder.Len())
	}
}

func TestTrigger_OverrideShortensDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl := smsDelaySMS()
	trg := welcome(tpl, "alice")
	trg.Overrides = map[step.Type]trigger.Override{step.Delay: {Amount: 3, Unit: step.Seconds}}

	if _, err := h.eng.Trigger(ctx, tpl, trg); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	delay := h.jobs(t, "txn-1")[1]
	if delay.AvailableAt == nil || !delay.AvailableAt.Equal(start.Add(3*time.Second)) {
		t.Fatalf("AvailableAt = %v, want %v", delay.AvailableAt, start.Add(3*time.Second))
	}
	if tpl.Steps[1].Metadata.Amount != 5 {
		t.Error("override mutated the template")
	}

	if _, err := h.eng.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	h.clock.Advance(3 * time.Second)
	if released, executed, err := h.eng.RunOnce(ctx); err != nil || released != 1 || executed != 2 {
		t.Fatalf("RunOnce = %d/%d, %v; want 1/2", released, executed, err)
	}
}

func TestTrigger_ValidationWritesNothing(t *testing.T) {
	h := newHarness(t)
	tpl := smsDelaySMS()

	_, err := h.eng.Trigger(context.Background(), tpl, welcome(tpl))
	var verr *courier.ValidationError
	if !errors.As(err, &verr) || verr.Field != "to" {
		t.Fatalf("err = %v, want validation error on to", err)
	}
	if n, _ := h.store.CountJobs(context.Background(), job.Filter{}); n != 0 {
		t.Errorf("jobs = %d, want 0", n)
	}
}

func TestTrigger_RepeatedTransactionRejected(t *testing.T) {
	h := newHarness(t)
	tpl := smsDelaySMS()
	if _, err := h.eng.Trigger(context.Background(), tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	_, err := h.eng.Trigger(context.Background(), tpl, welcome(tpl, "alice"))
	if !errors.Is(err, courier.ErrJobAlreadyExists) {
		t.Fatalf("err = %v, want ErrJobAlreadyExists", err)
	}
	if n, _ := h.store.CountJobs(context.Background(), job.Filter{}); n != 3 {
		t.Errorf("jobs = %d, want 3", n)
	}
}

func TestCancel_WhileDelayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl := smsDelaySMS()
	if _, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, err := h.eng.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	n, err := h.eng.Cancel(ctx, "txn-1")
	if err != nil || n != 2 {
		t.Fatalf("Cancel = %d, %v; want 2, nil", n, err)
	}

	h.clock.Advance(10 * time.Minute)
	if released, executed, err := h.eng.RunOnce(ctx); err != nil || released != 0 || executed != 0 {
		t.Fatalf("RunOnce after cancel = %d/%d, %v; want 0/0", released, executed, err)
	}
	want := []job.Status{job.StatusCompleted, job.StatusCanceled, job.StatusCanceled}
	if got := h.statuses(t, "txn-1", "alice"); !equalStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if h.recorder.Len() != 1 {
		t.Errorf("deliveries = %d, want 1", h.recorder.Len())
	}

	if n, err := h.eng.Cancel(ctx, "txn-1"); err != nil || n != 0 {
		t.Errorf("second Cancel = %d, %v; want 0, nil", n, err)
	}
}

func TestCancel_UnknownTransaction(t *testing.T) {
	h := newHarness(t)
	if _, err := h.eng.Cancel(context.Background(), "missing"); !errors.Is(err, courier.ErrTransactionNotFound) {
		t.Fatalf("err = %v, want ErrTransactionNotFound", err)
	}
}

type gatedHandler struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedHandler) Handle(ctx context.Context, _ *job.Job) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCancel_WhileRunning(t *testing.T) {
	g := &gatedHandler{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, engine.WithStepHandler(step.SMS, g))
	ctx := context.Background()
	tpl := &step.Template{
		ID:    id.NewTemplateID(),
		Name:  "pair",
		Steps: []step.Step{{Type: step.SMS, Content: "one"}, {Type: step.SMS, Content: "two"}},
	}
	if _, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	drained := make(chan int)
	go func() {
		n, _ := h.eng.Drain(ctx)
		drained <- n
	}()
	<-g.entered

	n, err := h.eng.Cancel(ctx, "txn-1")
	if err != nil || n != 1 {
		t.Fatalf("Cancel = %d, %v; want 1 (the successor)", n, err)
	}
	close(g.release)
	if got := <-drained; got != 1 {
		t.Errorf("executed = %d, want 1", got)
	}

	want := []job.Status{job.StatusCompleted, job.StatusCanceled}
	if got := h.statuses(t, "txn-1", "alice"); !equalStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if g.calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", g.calls.Load())
	}
}

func TestExecute_ConcurrentWorkersDeliverOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tpl := &step.Template{ID: id.NewTemplateID(), Steps: []step.Step{{Type: step.Email, Content: "x"}}}
	res, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	head := res.Jobs[0]

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o, _ := h.eng.Execute(ctx, head.Clone()); o == worker.OutcomeCompleted {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()

	if completed.Load() != 1 {
		t.Errorf("completed = %d, want 1", completed.Load())
	}
	if h.recorder.Len() != 1 {
		t.Errorf("deliveries = %d, want 1", h.recorder.Len())
	}
}

func TestFailure_HaltsChain(t *testing.T) {
	h := newHarness(t)
	h.recorder.Fail = func(d provider.Delivery) error {
		if d.Content == "Hi Ada" {
			return errors.New("carrier rejected")
		}
		return nil
	}
	ctx := context.Background()
	tpl := smsDelaySMS()
	if _, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if n, err := h.eng.Drain(ctx); err != nil || n != 1 {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	jobs := h.jobs(t, "txn-1")
	if jobs[0].Status != job.StatusFailed || jobs[0].LastError != "carrier rejected" {
		t.Errorf("head = %s %q, want failed with cause", jobs[0].Status, jobs[0].LastError)
	}
	if jobs[1].Status != job.StatusPending || jobs[2].Status != job.StatusPending {
		t.Errorf("downstream = %s, %s; want pending", jobs[1].Status, jobs[2].Status)
	}
}

type hookCounter struct {
	sent     atomic.Int32
	canceled atomic.Int32
	shutdown atomic.Int32
}

func (*hookCounter) Name() string { return "hook-counter" }

func (c *hookCounter) OnMessageSent(context.Context, *message.Message) error {
	c.sent.Add(1)
	return nil
}

func (c *hookCounter) OnJobCanceled(context.Context, *job.Job) error {
	c.canceled.Add(1)
	return nil
}

func (c *hookCounter) OnShutdown(context.Context) error {
	c.shutdown.Add(1)
	return nil
}

func TestStartStop_BackgroundDelivery(t *testing.T) {
	hooks := &hookCounter{}
	h := newHarness(t, engine.WithExtension(hooks))
	ctx := context.Background()
	tpl := &step.Template{
		ID:    id.NewTemplateID(),
		Steps: []step.Step{{Type: step.SMS, Content: "a"}, {Type: step.Push, Content: "b"}},
	}

	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.recorder.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.recorder.Len() != 2 {
		t.Fatalf("deliveries = %d, want 2", h.recorder.Len())
	}
	if hooks.sent.Load() != 2 || hooks.shutdown.Load() != 1 {
		t.Errorf("hooks sent=%d shutdown=%d", hooks.sent.Load(), hooks.shutdown.Load())
	}
}

func TestObservability_ProvidersInjected(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	h := newHarness(t, engine.WithMeterProvider(mp), engine.WithTracerProvider(tp))
	ctx := context.Background()
	tpl := smsDelaySMS()
	if _, err := h.eng.Trigger(ctx, tpl, welcome(tpl, "alice")); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if _, err := h.eng.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[m.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"courier.trigger.compiled": 1,
		"courier.job.queued":       1,
		"courier.job.delayed":      1,
		"courier.job.completed":    1,
		"courier.message.sent":     1,
		"courier.job.executions":   1,
	}
	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s = %d, want %d", name, got[name], n)
		}
	}

	ended := spans.Ended()
	if len(ended) != 1 || ended[0].Name() != "courier.job.execute" {
		t.Errorf("spans = %d, want one courier.job.execute", len(ended))
	}
}
