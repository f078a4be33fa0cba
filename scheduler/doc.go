// Package scheduler assigns pending work units to healthy nodes and
// keeps every unit on at most one node at a time.
//
// All scheduler methods mutate job and unit state, so they must only
// be invoked from the leader's coordinating goroutine. Units orphaned
// by node loss return to the unassigned pool and are handed out again
// on the next tick; they are never deleted, only their assignment is
// cleared, which keeps history auditable and references stable.
package scheduler
