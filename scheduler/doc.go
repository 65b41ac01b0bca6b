// Package scheduler decides when a job becomes eligible for a worker.
//
// Channel steps move straight from pending to queued. Delay and digest steps
// move to delayed and are parked in an in-process min-heap keyed by their due
// time; a single loop sleeps until the earliest entry is due (or the sweep
// interval elapses), then releases every due job back to queued.
//
// The heap is a cache. Each release also sweeps the store for delayed jobs
// that are due, so jobs parked by another process, or by this one before a
// restart, are released as well. Every release is a delayed to queued
// compare-and-set, so a job released twice, or canceled while it waited,
// lapses without error.
package scheduler
