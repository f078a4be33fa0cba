// Package membership tracks the fleet's worker nodes and their health.
//
// Every node reports liveness and resource metrics on a fixed heartbeat
// interval. The membership table derives each node's health purely from
// the time elapsed since its last heartbeat, against two thresholds:
//
//	Healthy  — heard from within the suspect timeout
//	Suspect  — silent longer than the suspect timeout
//	Dead     — silent longer than the dead timeout
//
// No heartbeat ever changes another node's health. Dead nodes are
// retained for an audit window and then evicted — but never while they
// still hold an assigned work unit; the scheduler must release the unit
// first.
//
// The table itself is an in-memory view owned by the engine's
// coordinating goroutine. The Store interface persists node records for
// snapshots and failover reconciliation.
package membership
