// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: batch inserts inside one transaction, a unique index on
// (transaction, step index, subscriber), conditional UPDATE ... WHERE status
// IN (...) as the only status mutation, partial indexes for the ready and due
// scans, embedded SQL migrations.
package postgres
