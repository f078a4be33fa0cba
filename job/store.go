package job

import (
	"context"

	"github.com/hashfleet/hashfleet/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// State filters by job state. Empty means all states.
	State State
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs and work units.
// Only the cluster leader calls the mutating methods, and always from a
// single goroutine; implementations still guard against concurrent
// readers.
type Store interface {
	// CreateJob persists a new job in pending state.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// ListJobs returns jobs matching the given options, ordered by
	// creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// CreateUnits persists the work units produced by partitioning a job.
	CreateUnits(ctx context.Context, units []*WorkUnit) error

	// DeleteUnits removes work units, used when a re-partition replaces
	// the unassigned tail of a job.
	DeleteUnits(ctx context.Context, unitIDs []id.UnitID) error

	// GetUnit retrieves a work unit by ID.
	GetUnit(ctx context.Context, unitID id.UnitID) (*WorkUnit, error)

	// UpdateUnit persists changes to an existing work unit.
	UpdateUnit(ctx context.Context, u *WorkUnit) error

	// ListUnitsByJob returns all units of a job ordered by unit index.
	ListUnitsByJob(ctx context.Context, jobID id.JobID) ([]*WorkUnit, error)

	// ListUnitsByState returns all units in the given state across jobs,
	// ordered by creation time.
	ListUnitsByState(ctx context.Context, state UnitState) ([]*WorkUnit, error)

	// ListUnitsByNode returns the units currently held by a node.
	ListUnitsByNode(ctx context.Context, nodeID id.NodeID) ([]*WorkUnit, error)
}
