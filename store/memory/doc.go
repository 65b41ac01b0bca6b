// Package memory provides an in-memory implementation of store.Store.
//
// Data lives in maps guarded by a single RWMutex, and every read returns a
// copy so callers can mutate results freely. Uniqueness of jobs per
// (transaction, step index, subscriber) is enforced with a fingerprint
// index. Nothing survives a restart, which makes the store the default
// fixture for tests.
package memory
