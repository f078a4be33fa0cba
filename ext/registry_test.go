package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnNodeJoined(_ context.Context, _ *membership.Node) error {
	e.calls = append(e.calls, "OnNodeJoined")
	return nil
}

func (e *allHooksExt) OnNodeHealthChanged(_ context.Context, _ *membership.Node, _, _ membership.Health) error {
	e.calls = append(e.calls, "OnNodeHealthChanged")
	return nil
}

func (e *allHooksExt) OnNodeDead(_ context.Context, _ *membership.Node) error {
	e.calls = append(e.calls, "OnNodeDead")
	return nil
}

func (e *allHooksExt) OnNodeEvicted(_ context.Context, _ *membership.Node) error {
	e.calls = append(e.calls, "OnNodeEvicted")
	return nil
}

func (e *allHooksExt) OnLeaderChanged(_ context.Context, _ id.NodeID, _ uint64) error {
	e.calls = append(e.calls, "OnLeaderChanged")
	return nil
}

func (e *allHooksExt) OnElectionFailed(_ context.Context, _ uint64) error {
	e.calls = append(e.calls, "OnElectionFailed")
	return nil
}

func (e *allHooksExt) OnUnitAssigned(_ context.Context, _ *job.WorkUnit, _ id.NodeID) error {
	e.calls = append(e.calls, "OnUnitAssigned")
	return nil
}

func (e *allHooksExt) OnUnitRequeued(_ context.Context, _ *job.WorkUnit, _ id.NodeID) error {
	e.calls = append(e.calls, "OnUnitRequeued")
	return nil
}

func (e *allHooksExt) OnUnitCompleted(_ context.Context, _ *job.WorkUnit) error {
	e.calls = append(e.calls, "OnUnitCompleted")
	return nil
}

func (e *allHooksExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSubmitted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnPasswordCracked(_ context.Context, _ id.JobID, _ job.Credential) error {
	e.calls = append(e.calls, "OnPasswordCracked")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// membershipOnlyExt only implements membership hooks.
type membershipOnlyExt struct {
	calls []string
}

func (e *membershipOnlyExt) Name() string { return "membership-only" }

func (e *membershipOnlyExt) OnNodeJoined(_ context.Context, _ *membership.Node) error {
	e.calls = append(e.calls, "OnNodeJoined")
	return nil
}

func (e *membershipOnlyExt) OnNodeDead(_ context.Context, _ *membership.Node) error {
	e.calls = append(e.calls, "OnNodeDead")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnNodeJoined(_ context.Context, _ *membership.Node) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	mo := &membershipOnlyExt{}
	r.Register(all)
	r.Register(mo)

	ctx := context.Background()
	n := &membership.Node{ID: id.NewNodeID()}

	// Both implement OnNodeJoined → both called.
	r.EmitNodeJoined(ctx, n)
	if len(all.calls) != 1 || all.calls[0] != "OnNodeJoined" {
		t.Fatalf("all: expected [OnNodeJoined], got %v", all.calls)
	}
	if len(mo.calls) != 1 || mo.calls[0] != "OnNodeJoined" {
		t.Fatalf("mo: expected [OnNodeJoined], got %v", mo.calls)
	}

	// Only all implements OnNodeEvicted → mo not called.
	r.EmitNodeEvicted(ctx, n)
	if len(all.calls) != 2 || all.calls[1] != "OnNodeEvicted" {
		t.Fatalf("all: expected OnNodeEvicted as 2nd, got %v", all.calls)
	}
	if len(mo.calls) != 1 {
		t.Fatalf("mo: should still have 1 call, got %v", mo.calls)
	}
}

func TestRegistry_AllMembershipHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	n := &membership.Node{ID: id.NewNodeID()}

	r.EmitNodeJoined(ctx, n)
	r.EmitNodeHealthChanged(ctx, n, membership.Healthy, membership.Suspect)
	r.EmitNodeDead(ctx, n)
	r.EmitNodeEvicted(ctx, n)

	expected := []string{
		"OnNodeJoined", "OnNodeHealthChanged", "OnNodeDead", "OnNodeEvicted",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_AllJobHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{ID: id.NewJobID(), Name: "test-job"}
	u := &job.WorkUnit{ID: id.NewUnitID(), JobID: j.ID}
	node := id.NewNodeID()

	r.EmitJobSubmitted(ctx, j)
	r.EmitUnitAssigned(ctx, u, node)
	r.EmitUnitRequeued(ctx, u, node)
	r.EmitUnitCompleted(ctx, u)
	r.EmitPasswordCracked(ctx, j.ID, job.Credential{Hash: "h", Plain: "p"})
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobCancelled(ctx, j)

	expected := []string{
		"OnJobSubmitted", "OnUnitAssigned", "OnUnitRequeued", "OnUnitCompleted",
		"OnPasswordCracked", "OnJobCompleted", "OnJobFailed", "OnJobCancelled",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_ElectionHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitLeaderChanged(ctx, id.NewNodeID(), 3)
	r.EmitElectionFailed(ctx, 4)

	expected := []string{"OnLeaderChanged", "OnElectionFailed"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	f := &failingExt{}
	all := &allHooksExt{}
	r.Register(f)
	r.Register(all)

	ctx := context.Background()
	n := &membership.Node{ID: id.NewNodeID()}

	// A failing hook must not prevent later extensions from running.
	r.EmitNodeJoined(ctx, n)
	if len(all.calls) != 1 || all.calls[0] != "OnNodeJoined" {
		t.Fatalf("all: expected [OnNodeJoined] despite failing ext, got %v", all.calls)
	}

	r.EmitShutdown(ctx)
	if all.calls[len(all.calls)-1] != "OnShutdown" {
		t.Fatalf("all: expected OnShutdown last, got %v", all.calls)
	}
}
