package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.NodeJoined        = (*MetricsExtension)(nil)
	_ ext.NodeHealthChanged = (*MetricsExtension)(nil)
	_ ext.NodeDead          = (*MetricsExtension)(nil)
	_ ext.NodeEvicted       = (*MetricsExtension)(nil)
	_ ext.LeaderChanged     = (*MetricsExtension)(nil)
	_ ext.ElectionFailed    = (*MetricsExtension)(nil)
	_ ext.UnitAssigned      = (*MetricsExtension)(nil)
	_ ext.UnitRequeued      = (*MetricsExtension)(nil)
	_ ext.UnitCompleted     = (*MetricsExtension)(nil)
	_ ext.JobSubmitted      = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobCancelled      = (*MetricsExtension)(nil)
	_ ext.PasswordCracked   = (*MetricsExtension)(nil)
)

// MetricsExtension records cluster-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to automatically track membership churn,
// election activity, unit assignment and requeue rates, job outcomes, and
// cracked credential counts.
type MetricsExtension struct {
	nodesJoined       metric.Int64Counter
	nodesDead         metric.Int64Counter
	nodesEvicted      metric.Int64Counter
	healthTransitions metric.Int64Counter
	leaderChanges     metric.Int64Counter
	electionsFailed   metric.Int64Counter
	leaderTerm        metric.Int64Gauge
	unitsAssigned     metric.Int64Counter
	unitsRequeued     metric.Int64Counter
	unitsCompleted    metric.Int64Counter
	jobsSubmitted     metric.Int64Counter
	jobsCompleted     metric.Int64Counter
	jobsFailed        metric.Int64Counter
	jobsCancelled     metric.Int64Counter
	passwordsCracked  metric.Int64Counter
	jobDuration       metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global meter
// provider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithMeter(otel.Meter("hashfleet/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this to plug in a test or application-scoped meter provider.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	var err error

	if m.nodesJoined, err = meter.Int64Counter("hashfleet.node.joined"); err != nil {
		return nil, err
	}
	if m.nodesDead, err = meter.Int64Counter("hashfleet.node.dead"); err != nil {
		return nil, err
	}
	if m.nodesEvicted, err = meter.Int64Counter("hashfleet.node.evicted"); err != nil {
		return nil, err
	}
	if m.healthTransitions, err = meter.Int64Counter("hashfleet.node.health_transitions"); err != nil {
		return nil, err
	}
	if m.leaderChanges, err = meter.Int64Counter("hashfleet.election.leader_changes"); err != nil {
		return nil, err
	}
	if m.electionsFailed, err = meter.Int64Counter("hashfleet.election.failed"); err != nil {
		return nil, err
	}
	if m.leaderTerm, err = meter.Int64Gauge("hashfleet.election.term"); err != nil {
		return nil, err
	}
	if m.unitsAssigned, err = meter.Int64Counter("hashfleet.unit.assigned"); err != nil {
		return nil, err
	}
	if m.unitsRequeued, err = meter.Int64Counter("hashfleet.unit.requeued"); err != nil {
		return nil, err
	}
	if m.unitsCompleted, err = meter.Int64Counter("hashfleet.unit.completed"); err != nil {
		return nil, err
	}
	if m.jobsSubmitted, err = meter.Int64Counter("hashfleet.job.submitted"); err != nil {
		return nil, err
	}
	if m.jobsCompleted, err = meter.Int64Counter("hashfleet.job.completed"); err != nil {
		return nil, err
	}
	if m.jobsFailed, err = meter.Int64Counter("hashfleet.job.failed"); err != nil {
		return nil, err
	}
	if m.jobsCancelled, err = meter.Int64Counter("hashfleet.job.cancelled"); err != nil {
		return nil, err
	}
	if m.passwordsCracked, err = meter.Int64Counter("hashfleet.password.cracked"); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("hashfleet.job.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Membership lifecycle hooks ──────────────────────

// OnNodeJoined implements ext.NodeJoined.
func (m *MetricsExtension) OnNodeJoined(ctx context.Context, _ *membership.Node) error {
	m.nodesJoined.Add(ctx, 1)
	return nil
}

// OnNodeHealthChanged implements ext.NodeHealthChanged.
func (m *MetricsExtension) OnNodeHealthChanged(ctx context.Context, _ *membership.Node, from, to membership.Health) error {
	m.healthTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	return nil
}

// OnNodeDead implements ext.NodeDead.
func (m *MetricsExtension) OnNodeDead(ctx context.Context, _ *membership.Node) error {
	m.nodesDead.Add(ctx, 1)
	return nil
}

// OnNodeEvicted implements ext.NodeEvicted.
func (m *MetricsExtension) OnNodeEvicted(ctx context.Context, _ *membership.Node) error {
	m.nodesEvicted.Add(ctx, 1)
	return nil
}

// ── Election lifecycle hooks ────────────────────────

// OnLeaderChanged implements ext.LeaderChanged.
func (m *MetricsExtension) OnLeaderChanged(ctx context.Context, _ id.NodeID, term uint64) error {
	m.leaderChanges.Add(ctx, 1)
	m.leaderTerm.Record(ctx, int64(term)) //nolint:gosec // terms stay far below int64 range
	return nil
}

// OnElectionFailed implements ext.ElectionFailed.
func (m *MetricsExtension) OnElectionFailed(ctx context.Context, _ uint64) error {
	m.electionsFailed.Add(ctx, 1)
	return nil
}

// ── Scheduling lifecycle hooks ──────────────────────

// OnUnitAssigned implements ext.UnitAssigned.
func (m *MetricsExtension) OnUnitAssigned(ctx context.Context, _ *job.WorkUnit, _ id.NodeID) error {
	m.unitsAssigned.Add(ctx, 1)
	return nil
}

// OnUnitRequeued implements ext.UnitRequeued.
func (m *MetricsExtension) OnUnitRequeued(ctx context.Context, _ *job.WorkUnit, _ id.NodeID) error {
	m.unitsRequeued.Add(ctx, 1)
	return nil
}

// OnUnitCompleted implements ext.UnitCompleted.
func (m *MetricsExtension) OnUnitCompleted(ctx context.Context, _ *job.WorkUnit) error {
	m.unitsCompleted.Add(ctx, 1)
	return nil
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, _ *job.Job) error {
	m.jobsSubmitted.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Add(ctx, 1)
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("hash_type", j.HashType),
	))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.Job) error {
	m.jobsCancelled.Add(ctx, 1)
	return nil
}

// OnPasswordCracked implements ext.PasswordCracked.
func (m *MetricsExtension) OnPasswordCracked(ctx context.Context, _ id.JobID, _ job.Credential) error {
	m.passwordsCracked.Add(ctx, 1)
	return nil
}
