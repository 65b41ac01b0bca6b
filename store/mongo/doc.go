// Package mongo implements the store on MongoDB with the official v2 driver.
//
// Jobs and messages live in the courier_jobs and courier_messages
// collections. A unique compound index on (transaction_id, step_index,
// subscriber_id) enforces one job per chain slot, and every status change is
// an UpdateOne whose filter includes the allowed current statuses.
//
// Batches are inserted with InsertMany and tagged with a batch token. If any
// document is rejected, the documents already written under that token are
// removed, so a failed batch leaves nothing behind.
package mongo
