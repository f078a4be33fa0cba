package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type nodeJoinedEntry struct {
	name string
	hook NodeJoined
}

type nodeHealthChangedEntry struct {
	name string
	hook NodeHealthChanged
}

type nodeDeadEntry struct {
	name string
	hook NodeDead
}

type nodeEvictedEntry struct {
	name string
	hook NodeEvicted
}

type leaderChangedEntry struct {
	name string
	hook LeaderChanged
}

type electionFailedEntry struct {
	name string
	hook ElectionFailed
}

type unitAssignedEntry struct {
	name string
	hook UnitAssigned
}

type unitRequeuedEntry struct {
	name string
	hook UnitRequeued
}

type unitCompletedEntry struct {
	name string
	hook UnitCompleted
}

type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type passwordCrackedEntry struct {
	name string
	hook PasswordCracked
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	nodeJoined        []nodeJoinedEntry
	nodeHealthChanged []nodeHealthChangedEntry
	nodeDead          []nodeDeadEntry
	nodeEvicted       []nodeEvictedEntry
	leaderChanged     []leaderChangedEntry
	electionFailed    []electionFailedEntry
	unitAssigned      []unitAssignedEntry
	unitRequeued      []unitRequeuedEntry
	unitCompleted     []unitCompletedEntry
	jobSubmitted      []jobSubmittedEntry
	jobCompleted      []jobCompletedEntry
	jobFailed         []jobFailedEntry
	jobCancelled      []jobCancelledEntry
	passwordCracked   []passwordCrackedEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(NodeJoined); ok {
		r.nodeJoined = append(r.nodeJoined, nodeJoinedEntry{name, h})
	}
	if h, ok := e.(NodeHealthChanged); ok {
		r.nodeHealthChanged = append(r.nodeHealthChanged, nodeHealthChangedEntry{name, h})
	}
	if h, ok := e.(NodeDead); ok {
		r.nodeDead = append(r.nodeDead, nodeDeadEntry{name, h})
	}
	if h, ok := e.(NodeEvicted); ok {
		r.nodeEvicted = append(r.nodeEvicted, nodeEvictedEntry{name, h})
	}
	if h, ok := e.(LeaderChanged); ok {
		r.leaderChanged = append(r.leaderChanged, leaderChangedEntry{name, h})
	}
	if h, ok := e.(ElectionFailed); ok {
		r.electionFailed = append(r.electionFailed, electionFailedEntry{name, h})
	}
	if h, ok := e.(UnitAssigned); ok {
		r.unitAssigned = append(r.unitAssigned, unitAssignedEntry{name, h})
	}
	if h, ok := e.(UnitRequeued); ok {
		r.unitRequeued = append(r.unitRequeued, unitRequeuedEntry{name, h})
	}
	if h, ok := e.(UnitCompleted); ok {
		r.unitCompleted = append(r.unitCompleted, unitCompletedEntry{name, h})
	}
	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(PasswordCracked); ok {
		r.passwordCracked = append(r.passwordCracked, passwordCrackedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Membership event emitters
// ──────────────────────────────────────────────────

// EmitNodeJoined notifies all extensions that implement NodeJoined.
func (r *Registry) EmitNodeJoined(ctx context.Context, n *membership.Node) {
	for _, e := range r.nodeJoined {
		if err := e.hook.OnNodeJoined(ctx, n); err != nil {
			r.logHookError("OnNodeJoined", e.name, err)
		}
	}
}

// EmitNodeHealthChanged notifies all extensions that implement NodeHealthChanged.
func (r *Registry) EmitNodeHealthChanged(ctx context.Context, n *membership.Node, from, to membership.Health) {
	for _, e := range r.nodeHealthChanged {
		if err := e.hook.OnNodeHealthChanged(ctx, n, from, to); err != nil {
			r.logHookError("OnNodeHealthChanged", e.name, err)
		}
	}
}

// EmitNodeDead notifies all extensions that implement NodeDead.
func (r *Registry) EmitNodeDead(ctx context.Context, n *membership.Node) {
	for _, e := range r.nodeDead {
		if err := e.hook.OnNodeDead(ctx, n); err != nil {
			r.logHookError("OnNodeDead", e.name, err)
		}
	}
}

// EmitNodeEvicted notifies all extensions that implement NodeEvicted.
func (r *Registry) EmitNodeEvicted(ctx context.Context, n *membership.Node) {
	for _, e := range r.nodeEvicted {
		if err := e.hook.OnNodeEvicted(ctx, n); err != nil {
			r.logHookError("OnNodeEvicted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Election event emitters
// ──────────────────────────────────────────────────

// EmitLeaderChanged notifies all extensions that implement LeaderChanged.
func (r *Registry) EmitLeaderChanged(ctx context.Context, leader id.NodeID, term uint64) {
	for _, e := range r.leaderChanged {
		if err := e.hook.OnLeaderChanged(ctx, leader, term); err != nil {
			r.logHookError("OnLeaderChanged", e.name, err)
		}
	}
}

// EmitElectionFailed notifies all extensions that implement ElectionFailed.
func (r *Registry) EmitElectionFailed(ctx context.Context, term uint64) {
	for _, e := range r.electionFailed {
		if err := e.hook.OnElectionFailed(ctx, term); err != nil {
			r.logHookError("OnElectionFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Scheduling event emitters
// ──────────────────────────────────────────────────

// EmitUnitAssigned notifies all extensions that implement UnitAssigned.
func (r *Registry) EmitUnitAssigned(ctx context.Context, u *job.WorkUnit, nodeID id.NodeID) {
	for _, e := range r.unitAssigned {
		if err := e.hook.OnUnitAssigned(ctx, u, nodeID); err != nil {
			r.logHookError("OnUnitAssigned", e.name, err)
		}
	}
}

// EmitUnitRequeued notifies all extensions that implement UnitRequeued.
func (r *Registry) EmitUnitRequeued(ctx context.Context, u *job.WorkUnit, lostNode id.NodeID) {
	for _, e := range r.unitRequeued {
		if err := e.hook.OnUnitRequeued(ctx, u, lostNode); err != nil {
			r.logHookError("OnUnitRequeued", e.name, err)
		}
	}
}

// EmitUnitCompleted notifies all extensions that implement UnitCompleted.
func (r *Registry) EmitUnitCompleted(ctx context.Context, u *job.WorkUnit) {
	for _, e := range r.unitCompleted {
		if err := e.hook.OnUnitCompleted(ctx, u); err != nil {
			r.logHookError("OnUnitCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitPasswordCracked notifies all extensions that implement PasswordCracked.
func (r *Registry) EmitPasswordCracked(ctx context.Context, jobID id.JobID, cred job.Credential) {
	for _, e := range r.passwordCracked {
		if err := e.hook.OnPasswordCracked(ctx, jobID, cred); err != nil {
			r.logHookError("OnPasswordCracked", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
