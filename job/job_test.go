package job_test

import (
	"slices"
	"testing"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/step"
)

func TestStatusCanTransition(t *testing.T) {
	all := []job.Status{
		job.StatusPending, job.StatusQueued, job.StatusDelayed, job.StatusRunning,
		job.StatusCompleted, job.StatusFailed, job.StatusCanceled,
	}
	allowed := map[job.Status][]job.Status{
		job.StatusPending: {job.StatusQueued, job.StatusDelayed, job.StatusCanceled},
		job.StatusDelayed: {job.StatusQueued, job.StatusCanceled},
		job.StatusQueued:  {job.StatusRunning, job.StatusCanceled},
		job.StatusRunning: {job.StatusCompleted, job.StatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			want := slices.Contains(allowed[from], to)
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: CanTransition = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := map[job.Status]bool{
		job.StatusPending:   false,
		job.StatusQueued:    false,
		job.StatusDelayed:   false,
		job.StatusRunning:   false,
		job.StatusCompleted: true,
		job.StatusFailed:    true,
		job.StatusCanceled:  true,
	}
	for s, want := range tests {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	if job.Status("paused").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestTransitionAllows(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		tr   job.Transition
		from job.Status
		want bool
	}{
		{"claim queued", job.Claim(now), job.StatusQueued, true},
		{"claim pending", job.Claim(now), job.StatusPending, false},
		{"cancel delayed", job.Cancel(now), job.StatusDelayed, true},
		{"cancel running", job.Cancel(now), job.StatusRunning, false},
		{"complete running", job.Complete(now), job.StatusRunning, true},
		{"release delayed", job.Queue(job.StatusDelayed, now), job.StatusDelayed, true},
		{"off-table edge", job.Transition{From: []job.Status{job.StatusCompleted}, To: job.StatusQueued}, job.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tr.Allows(tt.from); got != tt.want {
				t.Errorf("Allows(%s) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestTransitionApplyTimestamps(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	j := &job.Job{Status: job.StatusPending}

	job.Queue(job.StatusPending, at).Apply(j)
	if j.Status != job.StatusQueued || j.QueuedAt == nil || !j.QueuedAt.Equal(at) {
		t.Fatalf("after queue: %+v", j)
	}

	job.Claim(at.Add(time.Second)).Apply(j)
	if j.StartedAt == nil || !j.StartedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("after claim: started_at = %v", j.StartedAt)
	}

	job.Fail(at.Add(2*time.Second), "boom").Apply(j)
	if j.Status != job.StatusFailed || j.LastError != "boom" {
		t.Fatalf("after fail: %+v", j)
	}
	if j.CompletedAt == nil || !j.CompletedAt.Equal(at.Add(2*time.Second)) {
		t.Errorf("completed_at = %v", j.CompletedAt)
	}
}

func TestFilterMatch(t *testing.T) {
	pred := id.NewJobID()
	two := 2
	j := &job.Job{
		ID:            id.NewJobID(),
		TransactionID: "txn-1",
		SubscriberID:  "alice",
		Type:          step.Delay,
		Status:        job.StatusDelayed,
		StepIndex:     2,
		PredecessorID: pred,
	}

	tests := []struct {
		name string
		f    job.Filter
		want bool
	}{
		{"empty", job.Filter{}, true},
		{"transaction", job.Filter{TransactionID: "txn-1"}, true},
		{"other transaction", job.Filter{TransactionID: "txn-2"}, false},
		{"predecessor", job.Filter{PredecessorID: pred}, true},
		{"other predecessor", job.Filter{PredecessorID: id.NewJobID()}, false},
		{"types", job.Filter{Types: []step.Type{step.SMS, step.Delay}}, true},
		{"exclude types", job.Filter{ExcludeTypes: []step.Type{step.Delay}}, false},
		{"statuses", job.Filter{Statuses: job.Cancelable}, true},
		{"terminal statuses", job.Filter{Statuses: []job.Status{job.StatusCompleted}}, false},
		{"step index", job.Filter{StepIndex: &two}, true},
		{"ids", job.Filter{IDs: []id.JobID{j.ID}}, true},
		{"subscriber", job.Filter{SubscriberID: "bob"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(j); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompareReady(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later := base.Add(time.Second)

	a := &job.Job{ID: id.NewJobID(), QueuedAt: &base}
	b := &job.Job{ID: id.NewJobID(), QueuedAt: &later}
	c := &job.Job{ID: id.NewJobID(), QueuedAt: &base, StepIndex: 1}

	jobs := []*job.Job{b, c, a}
	slices.SortFunc(jobs, job.CompareReady)

	if jobs[0] != a || jobs[1] != c || jobs[2] != b {
		t.Errorf("unexpected order: %v %v %v", jobs[0].StepIndex, jobs[1].StepIndex, jobs[2].StepIndex)
	}
}

func TestReadyAndDue(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	if !(&job.Job{Status: job.StatusQueued}).Ready(now) {
		t.Error("queued job without available_at should be ready")
	}
	if (&job.Job{Status: job.StatusQueued, AvailableAt: &future}).Ready(now) {
		t.Error("queued job in the future should not be ready")
	}
	if (&job.Job{Status: job.StatusCanceled}).Ready(now) {
		t.Error("canceled job should never be ready")
	}
	if !(&job.Job{Status: job.StatusDelayed, AvailableAt: &past}).Due(now) {
		t.Error("delayed job in the past should be due")
	}
}

func TestClone(t *testing.T) {
	at := time.Now()
	j := &job.Job{Payload: []byte(`{"a":1}`), AvailableAt: &at}
	cp := j.Clone()
	cp.Payload[0] = 'x'
	*cp.AvailableAt = at.Add(time.Hour)
	if j.Payload[0] != '{' || !j.AvailableAt.Equal(at) {
		t.Error("Clone shares memory with the original")
	}
}

func TestTransitionSources(t *testing.T) {
	tr := job.Transition{From: []job.Status{job.StatusPending, job.StatusRunning, job.StatusDelayed}, To: job.StatusCanceled}
	got := tr.Sources()
	want := []job.Status{job.StatusPending, job.StatusDelayed}
	if !slices.Equal(got, want) {
		t.Errorf("Sources = %v, want %v", got, want)
	}
}

func TestStampField(t *testing.T) {
	tests := map[job.Status]string{
		job.StatusQueued:    "queued_at",
		job.StatusRunning:   "started_at",
		job.StatusCompleted: "completed_at",
		job.StatusCanceled:  "completed_at",
		job.StatusDelayed:   "",
	}
	for s, want := range tests {
		if got := job.StampField(s); got != want {
			t.Errorf("StampField(%s) = %q, want %q", s, got, want)
		}
	}
}
