// Package ext defines the extension system for HashFleet.
// Extensions are notified of cluster lifecycle events (node death,
// leadership changes, cracked passwords, job completion, etc.) and can
// react to them — audit logging, metrics, notification fan-out.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Membership lifecycle hooks
// ──────────────────────────────────────────────────

// NodeJoined is called when a node's first heartbeat lands.
type NodeJoined interface {
	OnNodeJoined(ctx context.Context, n *membership.Node) error
}

// NodeHealthChanged is called on every health transition, including
// recoveries from Suspect back to Healthy.
type NodeHealthChanged interface {
	OnNodeHealthChanged(ctx context.Context, n *membership.Node, from, to membership.Health) error
}

// NodeDead is called when a node transitions to Dead.
type NodeDead interface {
	OnNodeDead(ctx context.Context, n *membership.Node) error
}

// NodeEvicted is called when a Dead node is purged after its audit
// window.
type NodeEvicted interface {
	OnNodeEvicted(ctx context.Context, n *membership.Node) error
}

// ──────────────────────────────────────────────────
// Election lifecycle hooks
// ──────────────────────────────────────────────────

// LeaderChanged is called when the cluster's known leader changes.
type LeaderChanged interface {
	OnLeaderChanged(ctx context.Context, leader id.NodeID, term uint64) error
}

// ElectionFailed is called each time a campaign ends without quorum,
// leaving the cluster leaderless.
type ElectionFailed interface {
	OnElectionFailed(ctx context.Context, term uint64) error
}

// ──────────────────────────────────────────────────
// Scheduling lifecycle hooks
// ──────────────────────────────────────────────────

// UnitAssigned is called after a work unit is handed to a node.
type UnitAssigned interface {
	OnUnitAssigned(ctx context.Context, u *job.WorkUnit, nodeID id.NodeID) error
}

// UnitRequeued is called when a unit orphaned by node loss returns to
// the unassigned pool.
type UnitRequeued interface {
	OnUnitRequeued(ctx context.Context, u *job.WorkUnit, lostNode id.NodeID) error
}

// UnitCompleted is called when a node reports a unit Done.
type UnitCompleted interface {
	OnUnitCompleted(ctx context.Context, u *job.WorkUnit) error
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is accepted and partitioned.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called when every unit of a job reports Done.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (a unit exhausted
// its retry budget).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called after an operator cancels a job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// PasswordCracked is called for each newly recovered credential. This
// is a side channel for dashboards and alerting; job-state correctness
// never depends on it.
type PasswordCracked interface {
	OnPasswordCracked(ctx context.Context, jobID id.JobID, cred job.Credential) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
