package store

import (
	"context"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/message"
)

// Store is everything the engine persists. Jobs and messages live in the
// same backend so a delivered message and its job are never split across
// systems.
type Store interface {
	job.Store
	message.Store

	// Migrate brings the backend schema up to date. It is safe to call on
	// every start.
	Migrate(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources the store created itself.
	Close() error
}
