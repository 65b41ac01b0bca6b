package scheduler

import (
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

type entry struct {
	at  time.Time
	job *job.Job
}

// dueHeap orders entries by due time, then by job ID.
type dueHeap []entry

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, k int) bool {
	if c := h[i].at.Compare(h[k].at); c != 0 {
		return c < 0
	}
	return id.Compare(h[i].job.ID, h[k].job.ID) < 0
}

func (h dueHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }

func (h *dueHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
