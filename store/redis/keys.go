package redis

import "github.com/xraph/courier/job"

// Redis key naming conventions for courier data.
// All keys share the "{courier}:" prefix. The braces are a cluster hash tag:
// every key lands in one slot, so scripts may touch any of them.

const keyPrefix = "{courier}:"

// ── Job keys ──

// jobKey returns the key for a job entity: {courier}:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// fingerprintKey reserves one (transaction, step index, subscriber) slot.
func fingerprintKey(j *job.Job) string { return keyPrefix + "fp:" + j.Fingerprint() }

// transactionKey returns the Set of job IDs of a transaction.
func transactionKey(txn string) string { return keyPrefix + "txn:" + txn }

// successorKey returns the Set of job IDs whose predecessor is id.
func successorKey(id string) string { return keyPrefix + "next:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queuedKey is the Sorted Set of queued job IDs scored by queued_at (µs).
const queuedKey = keyPrefix + "queued"

// delayedKey is the Sorted Set of delayed job IDs scored by available_at (µs).
const delayedKey = keyPrefix + "delayed"

// ── Message keys ──

// messageKey returns the key for a message entity: {courier}:msg:{id}
func messageKey(id string) string { return keyPrefix + "msg:" + id }

// messageByJobKey maps a job ID to its message ID.
func messageByJobKey(jobID string) string { return keyPrefix + "msg_job:" + jobID }

// messageTransactionKey returns the Set of message IDs of a transaction.
func messageTransactionKey(txn string) string { return keyPrefix + "msg_txn:" + txn }

// messageIDsKey is the Sorted Set of message IDs scored by created_at (µs).
const messageIDsKey = keyPrefix + "msg_ids"
