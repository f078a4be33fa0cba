package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.NodeJoined        = (*Extension)(nil)
	_ ext.NodeHealthChanged = (*Extension)(nil)
	_ ext.NodeDead          = (*Extension)(nil)
	_ ext.NodeEvicted       = (*Extension)(nil)
	_ ext.LeaderChanged     = (*Extension)(nil)
	_ ext.ElectionFailed    = (*Extension)(nil)
	_ ext.UnitRequeued      = (*Extension)(nil)
	_ ext.JobSubmitted      = (*Extension)(nil)
	_ ext.JobCompleted      = (*Extension)(nil)
	_ ext.JobFailed         = (*Extension)(nil)
	_ ext.JobCancelled      = (*Extension)(nil)
	_ ext.PasswordCracked   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so the package does not depend on any particular
// trail storage — callers inject their backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges cluster lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Membership lifecycle hooks ──────────────────────

// OnNodeJoined implements ext.NodeJoined.
func (e *Extension) OnNodeJoined(ctx context.Context, n *membership.Node) error {
	return e.record(ctx, ActionNodeJoined, SeverityInfo, OutcomeSuccess,
		ResourceNode, n.ID.String(), CategoryMembership, nil,
		"addr", n.Addr,
		"hostname", n.Hostname,
	)
}

// OnNodeHealthChanged implements ext.NodeHealthChanged.
func (e *Extension) OnNodeHealthChanged(ctx context.Context, n *membership.Node, from, to membership.Health) error {
	sev := SeverityInfo
	if to != membership.Healthy {
		sev = SeverityWarning
	}
	return e.record(ctx, ActionNodeHealthChanged, sev, OutcomeSuccess,
		ResourceNode, n.ID.String(), CategoryMembership, nil,
		"addr", n.Addr,
		"from", string(from),
		"to", string(to),
	)
}

// OnNodeDead implements ext.NodeDead.
func (e *Extension) OnNodeDead(ctx context.Context, n *membership.Node) error {
	return e.record(ctx, ActionNodeDead, SeverityCritical, OutcomeFailure,
		ResourceNode, n.ID.String(), CategoryMembership, nil,
		"addr", n.Addr,
		"hostname", n.Hostname,
		"last_seen", n.LastSeen.Format(time.RFC3339),
	)
}

// OnNodeEvicted implements ext.NodeEvicted.
func (e *Extension) OnNodeEvicted(ctx context.Context, n *membership.Node) error {
	return e.record(ctx, ActionNodeEvicted, SeverityWarning, OutcomeSuccess,
		ResourceNode, n.ID.String(), CategoryMembership, nil,
		"hostname", n.Hostname,
		"last_seen", n.LastSeen.Format(time.RFC3339),
	)
}

// ── Election lifecycle hooks ────────────────────────

// OnLeaderChanged implements ext.LeaderChanged.
func (e *Extension) OnLeaderChanged(ctx context.Context, leader id.NodeID, term uint64) error {
	return e.record(ctx, ActionLeaderChanged, SeverityWarning, OutcomeSuccess,
		ResourceElection, leader.String(), CategoryElection, nil,
		"term", term,
	)
}

// OnElectionFailed implements ext.ElectionFailed.
func (e *Extension) OnElectionFailed(ctx context.Context, term uint64) error {
	return e.record(ctx, ActionElectionFailed, SeverityCritical, OutcomeFailure,
		ResourceElection, "", CategoryElection, nil,
		"term", term,
	)
}

// ── Scheduling lifecycle hooks ──────────────────────

// OnUnitRequeued implements ext.UnitRequeued.
func (e *Extension) OnUnitRequeued(ctx context.Context, u *job.WorkUnit, lostNode id.NodeID) error {
	return e.record(ctx, ActionUnitRequeued, SeverityWarning, OutcomeFailure,
		ResourceUnit, u.ID.String(), CategoryScheduling, nil,
		"job_id", u.JobID.String(),
		"lost_node", lostNode.String(),
		"range_start", u.Range.Start,
		"range_end", u.Range.End,
		"attempts", u.Attempts,
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"hash_type", j.HashType,
		"priority", j.Priority,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"cracked_count", j.CrackedCount,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"job_name", j.Name,
		"hash_type", j.HashType,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
	)
}

// OnPasswordCracked implements ext.PasswordCracked.
// The recovered plaintext is never written to the trail, only the hash
// and the node that cracked it.
func (e *Extension) OnPasswordCracked(ctx context.Context, jobID id.JobID, cred job.Credential) error {
	return e.record(ctx, ActionPasswordCracked, SeverityInfo, OutcomeSuccess,
		ResourceJob, jobID.String(), CategoryJob, nil,
		"hash", cred.Hash,
		"cracked_by", cred.CrackedBy.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
