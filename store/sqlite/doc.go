// Package sqlite implements the store on SQLite through database/sql and the
// pure Go modernc.org/sqlite driver.
//
// The database runs in WAL mode with a busy timeout. Timestamps are stored as
// fixed-width UTC text so they sort lexically, and every status change is a
// conditional UPDATE ... WHERE status IN (...).
package sqlite
