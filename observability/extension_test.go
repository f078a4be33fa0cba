package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/observability"
)

func newTestExtension(t *testing.T) *observability.MetricsExtension {
	t.Helper()
	e, err := observability.NewMetricsExtensionWithMeter(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsExtensionWithMeter: %v", err)
	}
	return e
}

func newTestNode() *membership.Node {
	return &membership.Node{
		ID:       id.NewNodeID(),
		Addr:     "10.0.0.5:9400",
		LastSeen: time.Now().UTC(),
	}
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Name:     "ntlm-batch",
		HashType: "ntlm",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_MembershipHooks(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()
	n := newTestNode()

	if err := e.OnNodeJoined(ctx, n); err != nil {
		t.Fatalf("OnNodeJoined: %v", err)
	}
	if err := e.OnNodeHealthChanged(ctx, n, membership.Healthy, membership.Suspect); err != nil {
		t.Fatalf("OnNodeHealthChanged: %v", err)
	}
	if err := e.OnNodeDead(ctx, n); err != nil {
		t.Fatalf("OnNodeDead: %v", err)
	}
	if err := e.OnNodeEvicted(ctx, n); err != nil {
		t.Fatalf("OnNodeEvicted: %v", err)
	}
}

func TestMetricsExtension_ElectionHooks(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()

	if err := e.OnLeaderChanged(ctx, id.NewNodeID(), 5); err != nil {
		t.Fatalf("OnLeaderChanged: %v", err)
	}
	if err := e.OnElectionFailed(ctx, 6); err != nil {
		t.Fatalf("OnElectionFailed: %v", err)
	}
}

func TestMetricsExtension_SchedulingHooks(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()

	j := newTestJob()
	u := &job.WorkUnit{ID: id.NewUnitID(), JobID: j.ID, Range: job.Range{Start: 0, End: 100}}

	if err := e.OnUnitAssigned(ctx, u, id.NewNodeID()); err != nil {
		t.Fatalf("OnUnitAssigned: %v", err)
	}
	if err := e.OnUnitRequeued(ctx, u, id.NewNodeID()); err != nil {
		t.Fatalf("OnUnitRequeued: %v", err)
	}
	if err := e.OnUnitCompleted(ctx, u); err != nil {
		t.Fatalf("OnUnitCompleted: %v", err)
	}
}

func TestMetricsExtension_JobHooks(t *testing.T) {
	e := newTestExtension(t)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobSubmitted(ctx, j); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, 2*time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobCancelled(ctx, j); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}
	if err := e.OnPasswordCracked(ctx, j.ID, job.Credential{Hash: "abc"}); err != nil {
		t.Fatalf("OnPasswordCracked: %v", err)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension(t)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	n := newTestNode()
	j := newTestJob()
	u := &job.WorkUnit{ID: id.NewUnitID(), JobID: j.ID}

	// None of these should panic or surface errors through the registry.
	reg.EmitNodeJoined(ctx, n)
	reg.EmitNodeDead(ctx, n)
	reg.EmitLeaderChanged(ctx, n.ID, 3)
	reg.EmitUnitAssigned(ctx, u, n.ID)
	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitPasswordCracked(ctx, j.ID, job.Credential{Hash: "abc", CrackedBy: n.ID})
}
