// Package redis implements store.Store on Redis with go-redis. Each job is a
// hash with its step stored as JSON; queued and delayed jobs are indexed in
// Sorted Sets scored by queued_at and available_at, and transactions and
// predecessors have Set indexes. Inserts and status changes run as Lua
// scripts so the fingerprint reservation and the status compare-and-set are
// atomic.
//
// The caller owns the client lifecycle; Close never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	store := redis.New(client)
//	if err := store.Migrate(ctx); err != nil { ... }
package redis
