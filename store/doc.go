// Package store defines the persistence contract of courier and hosts its
// backends:
//
//   - store/memory: maps behind a mutex, for tests and the default daemon
//   - store/postgres: pgx/v5 pool, one transaction per insert batch
//   - store/sqlite: modernc.org/sqlite on a single WAL connection
//   - store/redis: go-redis/v9 hashes, sorted sets and Lua scripts
//   - store/mongo: mongo-driver/v2 with conditional UpdateOne
//
// All of them hold the same guarantees, checked by store/storetest: at most
// one job per (transaction, step index, subscriber), at most one message per
// job, terminal jobs never change, and CompareAndSetStatus applies only when
// the current status is one the transition allows.
//
// A backend is opened, migrated and handed to the engine:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil {
//		return err
//	}
//	eng, err := engine.New(s)
package store
