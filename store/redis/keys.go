package redis

// Redis key naming conventions for hashfleet data.
// All keys are prefixed with "hashfleet:" to avoid collisions.

const keyPrefix = "hashfleet:"

// ── Job keys ──

// jobKey returns the key for a job entity: hashfleet:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Work unit keys ──

// unitKey returns the key for a work unit entity: hashfleet:unit:{id}
func unitKey(id string) string { return keyPrefix + "unit:" + id }

// unitIDsKey is the Set tracking all unit IDs for enumeration.
const unitIDsKey = keyPrefix + "unit_ids"

// jobUnitsKey returns the Set key tracking the units of a job.
func jobUnitsKey(jobID string) string { return keyPrefix + "job_units:" + jobID }

// ── Node keys ──

// nodeKey returns the key for a node entity: hashfleet:node:{id}
func nodeKey(id string) string { return keyPrefix + "node:" + id }

// nodeIDsKey is the Set tracking all node IDs for enumeration.
const nodeIDsKey = keyPrefix + "node_ids"

// ── Snapshot keys ──

// snapshotLatestKey stores the most recent state snapshot.
const snapshotLatestKey = keyPrefix + "snapshot:latest"

// snapshotHistoryKey is the List holding recent snapshots, newest first.
const snapshotHistoryKey = keyPrefix + "snapshots"
