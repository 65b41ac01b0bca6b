package job

import (
	"slices"
	"time"
)

// Transition describes a status-conditioned update: the job moves to To only
// if its current status is one of From.
type Transition struct {
	From []Status
	To   Status

	// At is the time recorded on the job. Stores set QueuedAt when To is
	// queued, StartedAt when To is running, and CompletedAt when To is
	// terminal.
	At time.Time

	// Error is recorded as LastError when non-empty.
	Error string
}

// Allows reports whether the transition applies to a job in status s.
func (t Transition) Allows(s Status) bool {
	return slices.Contains(t.From, s) && s.CanTransition(t.To)
}

// Apply mutates j as a successful transition would. It does not check From.
func (t Transition) Apply(j *Job) {
	at := t.At.UTC()
	j.Status = t.To
	j.UpdatedAt = at
	switch {
	case t.To == StatusQueued:
		j.QueuedAt = &at
	case t.To == StatusRunning:
		j.StartedAt = &at
	case t.To.Terminal():
		j.CompletedAt = &at
	}
	if t.Error != "" {
		j.LastError = t.Error
	}
}

// Queue moves a pending or delayed job to queued.
func Queue(from Status, at time.Time) Transition {
	return Transition{From: []Status{from}, To: StatusQueued, At: at}
}

// Defer moves a pending job to delayed.
func Defer(at time.Time) Transition {
	return Transition{From: []Status{StatusPending}, To: StatusDelayed, At: at}
}

// Claim moves a queued job to running.
func Claim(at time.Time) Transition {
	return Transition{From: []Status{StatusQueued}, To: StatusRunning, At: at}
}

// Complete moves a running job to completed.
func Complete(at time.Time) Transition {
	return Transition{From: []Status{StatusRunning}, To: StatusCompleted, At: at}
}

// Fail moves a running job to failed, recording cause.
func Fail(at time.Time, cause string) Transition {
	return Transition{From: []Status{StatusRunning}, To: StatusFailed, At: at, Error: cause}
}

// Cancel moves a job that has not started to canceled.
func Cancel(at time.Time) Transition {
	return Transition{From: Cancelable, To: StatusCanceled, At: at}
}

// Sources returns the statuses of t.From that may move to t.To.
func (t Transition) Sources() []Status {
	var out []Status
	for _, s := range t.From {
		if s.CanTransition(t.To) {
			out = append(out, s)
		}
	}
	return out
}

// StampField names the timestamp a transition to the given status records:
// "queued_at", "started_at", "completed_at", or "" for none. Backends use it
// as the column or field name.
func StampField(to Status) string {
	switch {
	case to == StatusQueued:
		return "queued_at"
	case to == StatusRunning:
		return "started_at"
	case to.Terminal():
		return "completed_at"
	default:
		return ""
	}
}
