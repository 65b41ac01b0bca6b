package job

import (
	"slices"
	"strconv"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/step"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job was compiled but not yet scheduled.
	StatusPending Status = "pending"
	// StatusQueued means the job is ready for a worker.
	StatusQueued Status = "queued"
	// StatusDelayed means the job waits for its AvailableAt time.
	StatusDelayed Status = "delayed"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job's step succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means the job's step failed and its chain halted.
	StatusFailed Status = "failed"
	// StatusCanceled means the job's transaction was canceled before it ran.
	StatusCanceled Status = "canceled"
)

// Cancelable lists the statuses a cancellation may move to canceled.
var Cancelable = []Status{StatusPending, StatusQueued, StatusDelayed}

var transitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusDelayed, StatusCanceled},
	StatusDelayed: {StatusQueued, StatusCanceled},
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusDelayed, StatusRunning,
		StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Job is one step of a template scheduled for one subscriber.
type Job struct {
	courier.Entity

	ID            id.JobID      `json:"id"`
	TemplateID    id.TemplateID `json:"template_id"`
	TransactionID string        `json:"transaction_id"`
	EnvironmentID string        `json:"environment_id"`
	SubscriberID  string        `json:"subscriber_id"`
	Type          step.Type     `json:"type"`
	Step          step.Step     `json:"step"`
	Status        Status        `json:"status"`
	Payload       []byte        `json:"payload,omitempty"`
	StepIndex     int           `json:"step_index"`
	PredecessorID id.JobID      `json:"predecessor_id,omitempty"`
	AvailableAt   *time.Time    `json:"available_at,omitempty"`
	QueuedAt      *time.Time    `json:"queued_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// IsDeferred reports whether the job waits for AvailableAt before running.
func (j *Job) IsDeferred() bool { return j.Type.IsDeferred() }

// Ready reports whether a queued job may be dequeued at now.
func (j *Job) Ready(now time.Time) bool {
	if j.Status != StatusQueued {
		return false
	}
	return j.AvailableAt == nil || !j.AvailableAt.After(now)
}

// Due reports whether a delayed job's wait has elapsed at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusDelayed && j.AvailableAt != nil && !j.AvailableAt.After(now)
}

// Fingerprint is the uniqueness key of a job: one job per transaction, step
// index and subscriber.
func (j *Job) Fingerprint() string {
	return Fingerprint(j.TransactionID, j.StepIndex, j.SubscriberID)
}

// Fingerprint builds the uniqueness key for the given parts.
func Fingerprint(transactionID string, stepIndex int, subscriberID string) string {
	return transactionID + ":" + strconv.Itoa(stepIndex) + ":" + subscriberID
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = slices.Clone(j.Payload)
	}
	cp.AvailableAt = cloneTime(j.AvailableAt)
	cp.QueuedAt = cloneTime(j.QueuedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
