package job

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/step"
)

// Filter selects jobs. Zero-valued fields do not constrain the result.
type Filter struct {
	IDs           []id.JobID
	TransactionID string
	TemplateID    id.TemplateID
	SubscriberID  string
	PredecessorID id.JobID
	Types         []step.Type
	ExcludeTypes  []step.Type
	Statuses      []Status

	// StepIndex matches a single step position when non-nil.
	StepIndex *int

	// Limit is the maximum number of jobs returned. Zero means no limit.
	Limit int
}

// Match reports whether j satisfies the filter. Backends that filter in
// process use it; Limit is not considered.
func (f Filter) Match(j *Job) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, j.ID) {
		return false
	}
	if f.TransactionID != "" && j.TransactionID != f.TransactionID {
		return false
	}
	if !f.TemplateID.IsNil() && !j.TemplateID.Equal(f.TemplateID) {
		return false
	}
	if f.SubscriberID != "" && j.SubscriberID != f.SubscriberID {
		return false
	}
	if !f.PredecessorID.IsNil() && !j.PredecessorID.Equal(f.PredecessorID) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, j.Type) {
		return false
	}
	if len(f.ExcludeTypes) > 0 && slices.Contains(f.ExcludeTypes, j.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	if f.StepIndex != nil && j.StepIndex != *f.StepIndex {
		return false
	}
	return true
}

func containsID(ids []id.JobID, v id.JobID) bool {
	for _, x := range ids {
		if x.Equal(v) {
			return true
		}
	}
	return false
}

// Store defines the persistence contract for jobs.
type Store interface {
	// InsertJobs persists a batch of new jobs atomically. It returns
	// courier.ErrJobAlreadyExists, writing nothing, if any job's ID or
	// fingerprint (transaction, step index, subscriber) is taken.
	InsertJobs(ctx context.Context, jobs []*Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindOneJob returns the first job matching the filter in chain order, or
	// courier.ErrJobNotFound.
	FindOneJob(ctx context.Context, f Filter) (*Job, error)

	// FindJobs returns the jobs matching the filter ordered by subscriber
	// then step index.
	FindJobs(ctx context.Context, f Filter) ([]*Job, error)

	// CountJobs returns the number of jobs matching the filter.
	CountJobs(ctx context.Context, f Filter) (int64, error)

	// CompareAndSetStatus applies t if the job's current status is one of
	// t.From. It reports whether the update happened and returns
	// courier.ErrJobNotFound for unknown IDs.
	CompareAndSetStatus(ctx context.Context, jobID id.JobID, t Transition) (bool, error)

	// ListReadyJobs returns up to limit queued jobs whose AvailableAt is nil
	// or not after now, ordered by QueuedAt, CreatedAt, StepIndex, then ID.
	ListReadyJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// ListDueJobs returns up to limit delayed jobs whose AvailableAt is not
	// after before, ordered by AvailableAt. A zero before returns every
	// delayed job.
	ListDueJobs(ctx context.Context, before time.Time, limit int) ([]*Job, error)
}
