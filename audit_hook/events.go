package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionNodeJoined        = "node.joined"
	ActionNodeHealthChanged = "node.health_changed"
	ActionNodeDead          = "node.dead"
	ActionNodeEvicted       = "node.evicted"
	ActionLeaderChanged     = "leader.changed"
	ActionElectionFailed    = "election.failed"
	ActionUnitRequeued      = "unit.requeued"
	ActionJobSubmitted      = "job.submitted"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobCancelled      = "job.cancelled"
	ActionPasswordCracked   = "password.cracked"
)

// Audit event categories group related actions.
const (
	CategoryMembership = "cluster.membership"
	CategoryElection   = "cluster.election"
	CategoryScheduling = "cluster.scheduling"
	CategoryJob        = "cluster.job"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceNode     = "node"
	ResourceElection = "election"
	ResourceUnit     = "work_unit"
	ResourceJob      = "job"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionNodeJoined,
		ActionNodeHealthChanged,
		ActionNodeDead,
		ActionNodeEvicted,
		ActionLeaderChanged,
		ActionElectionFailed,
		ActionUnitRequeued,
		ActionJobSubmitted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionPasswordCracked,
	}
}
