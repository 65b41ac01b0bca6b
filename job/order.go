package job

import (
	"cmp"
	"time"

	"github.com/xraph/courier/id"
)

// CompareChain orders jobs by subscriber, then step index, then ID. FindJobs
// results follow this order.
func CompareChain(a, b *Job) int {
	if c := cmp.Compare(a.SubscriberID, b.SubscriberID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.StepIndex, b.StepIndex); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

// CompareReady orders queued jobs for dequeue: QueuedAt, CreatedAt,
// StepIndex, then ID.
func CompareReady(a, b *Job) int {
	if c := compareTime(a.QueuedAt, b.QueuedAt); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.StepIndex, b.StepIndex); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

// CompareDue orders delayed jobs by AvailableAt, then ID.
func CompareDue(a, b *Job) int {
	if c := compareTime(a.AvailableAt, b.AvailableAt); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

// compareTime sorts nil after any set time.
func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}
