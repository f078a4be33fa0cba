package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/partition"
	"github.com/hashfleet/hashfleet/progress"
)

// Sender delivers instructions to nodes. Delivery is best effort; a
// failed send releases the unit back to the pool rather than blocking
// the tick.
type Sender interface {
	// SendAssignment instructs a node to start working a unit. The job
	// carries the opaque tool invocation parameters.
	SendAssignment(ctx context.Context, nodeID id.NodeID, j *job.Job, u *job.WorkUnit) error

	// SendStop instructs a node to abandon a unit.
	SendStop(ctx context.Context, nodeID id.NodeID, unitID id.UnitID) error
}

// Outcome is a node's final verdict on a work unit.
type Outcome string

const (
	// OutcomeDone means the node searched the unit's full range.
	OutcomeDone Outcome = "done"
	// OutcomeFailed means the node could not finish the unit; it is
	// requeued against its retry budget.
	OutcomeFailed Outcome = "failed"
)

// Scheduler owns job and unit state transitions on the leader.
type Scheduler struct {
	store  job.Store
	table  *membership.Table
	sender Sender
	agg    *progress.Aggregator

	registry     *ext.Registry
	retryBudget  int
	sendCooldown time.Duration
	logger       *slog.Logger
	now          func() time.Time

	// rr is the round-robin cursor used when node metrics are absent.
	rr int

	// cooldown holds nodes whose last delivery failed, with the time
	// they become eligible again. Without it a low-load node with no
	// reachable agent would be picked every tick and starve the rest.
	cooldown map[id.NodeID]time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRegistry attaches the extension registry for lifecycle events.
func WithRegistry(r *ext.Registry) Option {
	return func(s *Scheduler) { s.registry = r }
}

// WithRetryBudget sets how many assignments a unit may consume before
// its job fails.
func WithRetryBudget(n int) Option {
	return func(s *Scheduler) { s.retryBudget = n }
}

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSendCooldown sets how long a node is skipped after a failed
// delivery.
func WithSendCooldown(d time.Duration) Option {
	return func(s *Scheduler) { s.sendCooldown = d }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler over the given store, membership table and
// outbound sender.
func New(store job.Store, table *membership.Table, sender Sender, agg *progress.Aggregator, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		table:        table,
		sender:       sender,
		agg:          agg,
		registry:     ext.NewRegistry(slog.Default()),
		retryBudget:  3,
		sendCooldown: 500 * time.Millisecond,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		cooldown:     make(map[id.NodeID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit accepts a new job, partitions its candidate space across the
// currently healthy nodes and enqueues the units. The job starts in
// Pending state; the next tick hands its units out.
func (s *Scheduler) Submit(ctx context.Context, j *job.Job) error {
	if j.TotalSpace == 0 {
		return fmt.Errorf("submit job %q: empty candidate space", j.Name)
	}
	if j.Priority < 1 {
		j.Priority = 1
	}
	if j.Priority > 10 {
		j.Priority = 10
	}
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	j.Entity = hashfleet.NewEntity()
	j.State = job.StatePending

	nodeCount := 0
	for range s.table.ListHealthy() {
		nodeCount++
	}

	units, err := partition.Split(j, nodeCount)
	if err != nil {
		return fmt.Errorf("partition job %s: %w", j.ID, err)
	}
	for _, u := range units {
		u.Entity = hashfleet.NewEntity()
	}

	if err := s.store.CreateJob(ctx, j); err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	if err := s.store.CreateUnits(ctx, units); err != nil {
		return fmt.Errorf("create units for job %s: %w", j.ID, err)
	}

	s.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("name", j.Name),
		slog.Int("units", len(units)),
		slog.Int("priority", j.Priority))

	s.registry.EmitJobSubmitted(ctx, j)
	return nil
}

// Tick assigns every unassigned work unit to a healthy idle node,
// highest-priority jobs first. Nodes reporting load metrics are picked
// least-loaded first; without metrics assignment falls back to
// round-robin. Returns the number of assignments made.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	units, err := s.pendingUnits(ctx)
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		return 0, nil
	}

	assigned := 0
	for _, u := range units {
		node := s.pickNode(ctx)
		if node == nil {
			break // every healthy node is busy
		}
		if err := s.assign(ctx, node, u); err != nil {
			s.logger.Warn("assignment failed",
				slog.String("unit_id", u.ID.String()),
				slog.String("node_id", node.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		assigned++
	}
	return assigned, nil
}

// pendingUnits returns the unassigned units of non-terminal jobs,
// ordered by job priority (descending), then job age, then unit index.
func (s *Scheduler) pendingUnits(ctx context.Context) ([]*job.WorkUnit, error) {
	units, err := s.store.ListUnitsByState(ctx, job.UnitUnassigned)
	if err != nil {
		return nil, fmt.Errorf("list unassigned units: %w", err)
	}
	if len(units) == 0 {
		return nil, nil
	}

	jobs := make(map[string]*job.Job)
	var out []*job.WorkUnit
	for _, u := range units {
		key := u.JobID.String()
		j, ok := jobs[key]
		if !ok {
			j, err = s.store.GetJob(ctx, u.JobID)
			if err != nil {
				return nil, fmt.Errorf("load job %s: %w", u.JobID, err)
			}
			jobs[key] = j
		}
		if j.State.Terminal() {
			continue
		}
		out = append(out, u)
	}

	sort.SliceStable(out, func(i, k int) bool {
		ji, jk := jobs[out[i].JobID.String()], jobs[out[k].JobID.String()]
		if ji.Priority != jk.Priority {
			return ji.Priority > jk.Priority
		}
		if !ji.CreatedAt.Equal(jk.CreatedAt) {
			return ji.CreatedAt.Before(jk.CreatedAt)
		}
		return out[i].Index < out[k].Index
	})
	return out, nil
}

// pickNode selects a healthy node with no current assignment, skipping
// nodes still cooling down from a failed delivery. Nodes that report
// metrics are compared by load; if none do, a round-robin cursor
// spreads assignments evenly.
func (s *Scheduler) pickNode(ctx context.Context) *membership.Node {
	now := s.now()
	var candidates []*membership.Node
	for nodeID := range s.table.ListHealthy() {
		if until, ok := s.cooldown[nodeID]; ok {
			if now.Before(until) {
				continue
			}
			delete(s.cooldown, nodeID)
		}
		n, err := s.table.Get(nodeID)
		if err != nil || n.HasAssignment() {
			continue
		}
		candidates = append(candidates, n)
	}
	if len(candidates) == 0 {
		return nil
	}

	hasMetrics := false
	for _, n := range candidates {
		if n.Metrics.Load() > 0 {
			hasMetrics = true
			break
		}
	}
	if !hasMetrics {
		n := candidates[s.rr%len(candidates)]
		s.rr++
		return n
	}

	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.Metrics.Load() < best.Metrics.Load() {
			best = n
		}
	}
	return best
}

// assign hands a unit to a node. The membership table is reserved
// first so a concurrent status reader never observes two holders; a
// failed send rolls everything back.
func (s *Scheduler) assign(ctx context.Context, node *membership.Node, u *job.WorkUnit) error {
	if err := s.table.SetAssignment(node.ID, u.ID); err != nil {
		return err
	}

	now := s.now()
	u.State = job.UnitAssigned
	u.NodeID = node.ID
	u.Fraction = 0
	u.Attempts++
	u.AssignedAt = &now

	j, err := s.store.GetJob(ctx, u.JobID)
	if err != nil {
		s.table.ClearAssignment(node.ID)
		u.Release()
		return err
	}

	if err := s.store.UpdateUnit(ctx, u); err != nil {
		s.table.ClearAssignment(node.ID)
		u.Release()
		return err
	}

	if err := s.sender.SendAssignment(ctx, node.ID, j, u); err != nil {
		s.table.ClearAssignment(node.ID)
		s.cooldown[node.ID] = s.now().Add(s.sendCooldown)
		u.Release()
		// The attempt never reached a node, so it does not count
		// against the retry budget.
		u.Attempts--
		if uerr := s.store.UpdateUnit(ctx, u); uerr != nil {
			return fmt.Errorf("release after failed send: %w", uerr)
		}
		return err
	}

	if j.State == job.StatePending {
		j.State = job.StateRunning
		j.StartedAt = &now
		if err := s.store.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
	}

	s.logger.Info("unit assigned",
		slog.String("unit_id", u.ID.String()),
		slog.String("job_id", u.JobID.String()),
		slog.String("node_id", node.ID.String()),
		slog.Int("attempt", u.Attempts))

	s.registry.EmitUnitAssigned(ctx, u, node.ID)
	return nil
}

// OnNodeLost requeues every unit held by a node that transitioned to
// Dead. Partial progress is discarded; a unit past its retry budget
// fails its job instead of circulating forever.
func (s *Scheduler) OnNodeLost(ctx context.Context, nodeID id.NodeID) error {
	units, err := s.store.ListUnitsByNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("list units for lost node %s: %w", nodeID, err)
	}

	s.table.ClearAssignment(nodeID)

	for _, u := range units {
		if !u.State.Active() {
			continue
		}

		u.Release()
		if u.Attempts > s.retryBudget {
			if err := s.failUnit(ctx, u, fmt.Sprintf("retry budget exhausted after node %s lost", nodeID)); err != nil {
				return err
			}
			continue
		}

		if err := s.store.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("requeue unit %s: %w", u.ID, err)
		}

		s.logger.Warn("unit requeued after node loss",
			slog.String("unit_id", u.ID.String()),
			slog.String("node_id", nodeID.String()),
			slog.Int("attempts", u.Attempts))

		s.registry.EmitUnitRequeued(ctx, u, nodeID)
	}
	return nil
}

// ApplyProgress folds a node's progress report into its unit. Reports
// from a node that no longer holds the unit are ignored; duplicate or
// out-of-order reports cannot regress the fraction or double-count
// credentials.
func (s *Scheduler) ApplyProgress(ctx context.Context, r progress.Report) error {
	u, err := s.store.GetUnit(ctx, r.UnitID)
	if err != nil {
		return fmt.Errorf("load unit %s: %w", r.UnitID, err)
	}
	if !u.State.Active() || u.NodeID != r.NodeID {
		// Stale reporter: the unit moved on (reassigned or terminal).
		return nil
	}

	_, fresh := s.agg.ApplyUnit(u, r)

	if err := s.store.UpdateUnit(ctx, u); err != nil {
		return fmt.Errorf("update unit %s: %w", u.ID, err)
	}

	if len(fresh) > 0 {
		j, err := s.store.GetJob(ctx, u.JobID)
		if err != nil {
			return fmt.Errorf("load job %s: %w", u.JobID, err)
		}
		j.CrackedCount += len(fresh)
		if err := s.store.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job %s: %w", j.ID, err)
		}
		for _, cred := range fresh {
			s.logger.Info("password cracked",
				slog.String("job_id", j.ID.String()),
				slog.String("hash", cred.Hash),
				slog.String("node_id", cred.CrackedBy.String()))
			s.registry.EmitPasswordCracked(ctx, j.ID, cred)
		}
	}
	return nil
}

// HandleResult processes a node's final verdict on a unit. Done
// completes the unit and, once every sibling is Done, the job; Failed
// requeues against the retry budget.
func (s *Scheduler) HandleResult(ctx context.Context, nodeID id.NodeID, unitID id.UnitID, outcome Outcome) error {
	u, err := s.store.GetUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("load unit %s: %w", unitID, err)
	}
	if !u.State.Active() || u.NodeID != nodeID {
		return nil // stale result
	}

	s.table.ClearAssignment(nodeID)

	switch outcome {
	case OutcomeDone:
		now := s.now()
		u.State = job.UnitDone
		u.Fraction = 1
		u.CompletedAt = &now
		if err := s.store.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("complete unit %s: %w", u.ID, err)
		}
		s.registry.EmitUnitCompleted(ctx, u)
		return s.maybeCompleteJob(ctx, u.JobID)

	case OutcomeFailed:
		u.Release()
		if u.Attempts > s.retryBudget {
			return s.failUnit(ctx, u, "retry budget exhausted")
		}
		if err := s.store.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("requeue unit %s: %w", u.ID, err)
		}
		s.registry.EmitUnitRequeued(ctx, u, nodeID)
		return nil

	default:
		return fmt.Errorf("unit %s: unknown outcome %q", unitID, outcome)
	}
}

// maybeCompleteJob transitions a job to Completed once every unit is
// Done.
func (s *Scheduler) maybeCompleteJob(ctx context.Context, jobID id.JobID) error {
	units, err := s.store.ListUnitsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list units for job %s: %w", jobID, err)
	}
	if !progress.JobComplete(units) {
		return nil
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if j.State.Terminal() {
		return nil
	}

	now := s.now()
	j.State = job.StateCompleted
	j.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	s.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.Duration("elapsed", elapsed),
		slog.Int("cracked", j.CrackedCount))

	s.agg.Forget(jobID)
	s.registry.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// failUnit marks a unit Failed and fails its job.
func (s *Scheduler) failUnit(ctx context.Context, u *job.WorkUnit, reason string) error {
	u.State = job.UnitFailed
	u.NodeID = id.Nil
	if err := s.store.UpdateUnit(ctx, u); err != nil {
		return fmt.Errorf("fail unit %s: %w", u.ID, err)
	}

	j, err := s.store.GetJob(ctx, u.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", u.JobID, err)
	}
	if j.State.Terminal() {
		return nil
	}

	now := s.now()
	j.State = job.StateFailed
	j.FailReason = reason
	j.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}

	s.logger.Error("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("unit_id", u.ID.String()),
		slog.String("reason", reason))

	s.agg.Forget(j.ID)
	s.registry.EmitJobFailed(ctx, j, hashfleet.ErrRetryBudgetExhausted)
	return s.stopSiblings(ctx, j.ID, u.ID)
}

// Cancel marks a job Cancelled, fails its non-terminal units and asks
// the holding nodes to stop. Stop delivery is best effort: a node that
// does not acknowledge is simply no longer trusted for the unit.
func (s *Scheduler) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if j.State.Terminal() {
		return hashfleet.ErrJobTerminal
	}

	now := s.now()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}

	units, err := s.store.ListUnitsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list units for job %s: %w", jobID, err)
	}
	for _, u := range units {
		if u.State.Terminal() {
			continue
		}
		holder := u.NodeID
		if u.State.Active() && !holder.IsNil() {
			s.table.ClearAssignment(holder)
			if err := s.sender.SendStop(ctx, holder, u.ID); err != nil {
				s.logger.Warn("stop request failed",
					slog.String("unit_id", u.ID.String()),
					slog.String("node_id", holder.String()),
					slog.String("error", err.Error()))
			}
		}
		u.State = job.UnitFailed
		u.NodeID = id.Nil
		if err := s.store.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("fail unit %s: %w", u.ID, err)
		}
	}

	s.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	s.agg.Forget(jobID)
	s.registry.EmitJobCancelled(ctx, j)
	return nil
}

// stopSiblings asks nodes to abandon the remaining active units of a
// failed job.
func (s *Scheduler) stopSiblings(ctx context.Context, jobID id.JobID, except id.UnitID) error {
	units, err := s.store.ListUnitsByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list units for job %s: %w", jobID, err)
	}
	for _, u := range units {
		if u.ID == except || !u.State.Active() {
			continue
		}
		holder := u.NodeID
		s.table.ClearAssignment(holder)
		if err := s.sender.SendStop(ctx, holder, u.ID); err != nil {
			s.logger.Warn("stop request failed",
				slog.String("unit_id", u.ID.String()),
				slog.String("node_id", holder.String()),
				slog.String("error", err.Error()))
		}
		u.State = job.UnitFailed
		u.NodeID = id.Nil
		if err := s.store.UpdateUnit(ctx, u); err != nil {
			return fmt.Errorf("fail unit %s: %w", u.ID, err)
		}
	}
	return nil
}

// Reconcile revalidates every active assignment against current
// membership health. A new leader runs this before its first tick so a
// unit the previous leader handed to a node that has since died is
// released, never double-assigned. Returns the number of released
// units.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	released := 0
	for _, state := range []job.UnitState{job.UnitAssigned, job.UnitInProgress} {
		units, err := s.store.ListUnitsByState(ctx, state)
		if err != nil {
			return released, fmt.Errorf("list %s units: %w", state, err)
		}
		for _, u := range units {
			health, err := s.table.HealthOf(u.NodeID)
			if err == nil && health != membership.Dead {
				// The holder is alive (possibly Suspect) and may still
				// be working its range. Re-pin the assignment; if it
				// dies later the sweep requeues through OnNodeLost.
				if err := s.table.SetAssignment(u.NodeID, u.ID); err == nil {
					continue
				}
			}

			holder := u.NodeID
			u.Release()
			if err := s.store.UpdateUnit(ctx, u); err != nil {
				return released, fmt.Errorf("release stale unit %s: %w", u.ID, err)
			}
			released++
			s.logger.Warn("stale assignment released during reconcile",
				slog.String("unit_id", u.ID.String()),
				slog.String("node_id", holder.String()))
			s.registry.EmitUnitRequeued(ctx, u, holder)
		}
	}
	return released, nil
}

// Rebalance re-splits the undistributed tail of every active job for
// the given healthy node count, so a fleet that grew mid-job can put
// its new nodes to work and a shrunken fleet stops producing units no
// node will take. Units already handed out keep their boundaries.
// Returns the number of jobs whose tails were re-planned.
func (s *Scheduler) Rebalance(ctx context.Context, nodeCount int) (int, error) {
	if nodeCount < 1 {
		return 0, nil
	}

	rebalanced := 0
	for _, state := range []job.State{job.StatePending, job.StateRunning} {
		jobs, err := s.store.ListJobs(ctx, job.ListOpts{State: state})
		if err != nil {
			return rebalanced, fmt.Errorf("list %s jobs: %w", state, err)
		}
		for _, j := range jobs {
			units, err := s.store.ListUnitsByJob(ctx, j.ID)
			if err != nil {
				return rebalanced, fmt.Errorf("list units for job %s: %w", j.ID, err)
			}

			replacement := partition.Rebalance(j, units, nodeCount)
			if replacement == nil {
				continue
			}
			for _, u := range replacement {
				u.Entity = hashfleet.NewEntity()
			}

			// Insert the new tail before removing the old one so a
			// crash in between leaves extra units, never a gap.
			replaced := make([]id.UnitID, 0, len(units))
			for _, u := range units {
				if u.Index >= replacement[0].Index {
					replaced = append(replaced, u.ID)
				}
			}
			if err := s.store.CreateUnits(ctx, replacement); err != nil {
				return rebalanced, fmt.Errorf("create rebalanced units for job %s: %w", j.ID, err)
			}
			if err := s.store.DeleteUnits(ctx, replaced); err != nil {
				return rebalanced, fmt.Errorf("delete replaced units for job %s: %w", j.ID, err)
			}

			rebalanced++
			s.logger.Info("job tail rebalanced",
				slog.String("job_id", j.ID.String()),
				slog.Int("node_count", nodeCount),
				slog.Int("old_units", len(replaced)),
				slog.Int("new_units", len(replacement)))
		}
	}
	return rebalanced, nil
}

// JobProgress summarizes a job for status queries: weighted fraction,
// cracked count and a best-effort ETA.
type JobProgress struct {
	Job      *job.Job        `json:"job"`
	Units    []*job.WorkUnit `json:"units"`
	Fraction float64         `json:"fraction"`
	Cracked  int             `json:"cracked"`
	ETA      *time.Duration  `json:"eta,omitempty"`
}

// Progress computes the current progress view of a job and records a
// throughput sample for ETA estimation.
func (s *Scheduler) Progress(ctx context.Context, jobID id.JobID) (*JobProgress, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	units, err := s.store.ListUnitsByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list units for job %s: %w", jobID, err)
	}

	p := &JobProgress{
		Job:      j,
		Units:    units,
		Fraction: progress.JobFraction(units),
		Cracked:  progress.CrackedCount(units),
	}
	if !j.State.Terminal() {
		s.agg.Observe(jobID, p.Fraction)
		if eta, ok := s.agg.ETA(jobID); ok {
			p.ETA = &eta
		}
	}
	return p, nil
}
