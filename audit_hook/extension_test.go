package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/hashfleet/hashfleet/audit_hook"
	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestNode() *membership.Node {
	return &membership.Node{
		ID:       id.NewNodeID(),
		Addr:     "10.0.0.5:9400",
		Hostname: "rig-05",
		LastSeen: time.Now().UTC(),
	}
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Name:     "ntlm-batch",
		HashType: "ntlm",
		Priority: 7,
	}
}

func newTestUnit(jobID id.JobID) *job.WorkUnit {
	return &job.WorkUnit{
		ID:       id.NewUnitID(),
		JobID:    jobID,
		Range:    job.Range{Start: 100, End: 200},
		Attempts: 2,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Membership lifecycle tests ───────────────────────

func TestExtension_NodeJoined(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	n := newTestNode()

	if err := e.OnNodeJoined(ctx, n); err != nil {
		t.Fatalf("OnNodeJoined: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionNodeJoined {
		t.Errorf("Action: want %q, got %q", ah.ActionNodeJoined, evt.Action)
	}
	if evt.Resource != ah.ResourceNode {
		t.Errorf("Resource: want %q, got %q", ah.ResourceNode, evt.Resource)
	}
	if evt.Category != ah.CategoryMembership {
		t.Errorf("Category: want %q, got %q", ah.CategoryMembership, evt.Category)
	}
	if evt.ResourceID != n.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", n.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["addr"] != "10.0.0.5:9400" {
		t.Errorf("Metadata[addr]: want %q, got %v", "10.0.0.5:9400", evt.Metadata["addr"])
	}
	if evt.Metadata["hostname"] != "rig-05" {
		t.Errorf("Metadata[hostname]: want %q, got %v", "rig-05", evt.Metadata["hostname"])
	}
}

func TestExtension_NodeHealthChanged_Degradation(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	n := newTestNode()

	if err := e.OnNodeHealthChanged(context.Background(), n, membership.Healthy, membership.Suspect); err != nil {
		t.Fatalf("OnNodeHealthChanged: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionNodeHealthChanged {
		t.Errorf("Action: want %q, got %q", ah.ActionNodeHealthChanged, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["from"] != string(membership.Healthy) {
		t.Errorf("Metadata[from]: want %q, got %v", membership.Healthy, evt.Metadata["from"])
	}
	if evt.Metadata["to"] != string(membership.Suspect) {
		t.Errorf("Metadata[to]: want %q, got %v", membership.Suspect, evt.Metadata["to"])
	}
}

func TestExtension_NodeHealthChanged_Recovery(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	n := newTestNode()

	if err := e.OnNodeHealthChanged(context.Background(), n, membership.Suspect, membership.Healthy); err != nil {
		t.Fatalf("OnNodeHealthChanged: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q (recovery), got %q", ah.SeverityInfo, evt.Severity)
	}
}

func TestExtension_NodeDead(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	n := newTestNode()

	if err := e.OnNodeDead(context.Background(), n); err != nil {
		t.Fatalf("OnNodeDead: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionNodeDead {
		t.Errorf("Action: want %q, got %q", ah.ActionNodeDead, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["last_seen"] == nil {
		t.Error("Metadata[last_seen] missing")
	}
}

func TestExtension_NodeEvicted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	n := newTestNode()

	if err := e.OnNodeEvicted(context.Background(), n); err != nil {
		t.Fatalf("OnNodeEvicted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionNodeEvicted {
		t.Errorf("Action: want %q, got %q", ah.ActionNodeEvicted, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
}

// ── Election lifecycle tests ─────────────────────────

func TestExtension_LeaderChanged(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	leader := id.NewNodeID()

	if err := e.OnLeaderChanged(context.Background(), leader, 7); err != nil {
		t.Fatalf("OnLeaderChanged: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionLeaderChanged {
		t.Errorf("Action: want %q, got %q", ah.ActionLeaderChanged, evt.Action)
	}
	if evt.Resource != ah.ResourceElection {
		t.Errorf("Resource: want %q, got %q", ah.ResourceElection, evt.Resource)
	}
	if evt.Category != ah.CategoryElection {
		t.Errorf("Category: want %q, got %q", ah.CategoryElection, evt.Category)
	}
	if evt.ResourceID != leader.String() {
		t.Errorf("ResourceID: want %q, got %q", leader.String(), evt.ResourceID)
	}
	if evt.Metadata["term"] != uint64(7) {
		t.Errorf("Metadata[term]: want %d, got %v", 7, evt.Metadata["term"])
	}
}

func TestExtension_ElectionFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnElectionFailed(context.Background(), 9); err != nil {
		t.Fatalf("OnElectionFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionElectionFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionElectionFailed, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
}

// ── Scheduling lifecycle tests ───────────────────────

func TestExtension_UnitRequeued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	u := newTestUnit(j.ID)
	lostNode := id.NewNodeID()

	if err := e.OnUnitRequeued(context.Background(), u, lostNode); err != nil {
		t.Fatalf("OnUnitRequeued: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionUnitRequeued {
		t.Errorf("Action: want %q, got %q", ah.ActionUnitRequeued, evt.Action)
	}
	if evt.Resource != ah.ResourceUnit {
		t.Errorf("Resource: want %q, got %q", ah.ResourceUnit, evt.Resource)
	}
	if evt.Category != ah.CategoryScheduling {
		t.Errorf("Category: want %q, got %q", ah.CategoryScheduling, evt.Category)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["lost_node"] != lostNode.String() {
		t.Errorf("Metadata[lost_node]: want %q, got %v", lostNode.String(), evt.Metadata["lost_node"])
	}
	if evt.Metadata["range_start"] != uint64(100) {
		t.Errorf("Metadata[range_start]: want %d, got %v", 100, evt.Metadata["range_start"])
	}
	if evt.Metadata["attempts"] != 2 {
		t.Errorf("Metadata[attempts]: want %d, got %v", 2, evt.Metadata["attempts"])
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobSubmitted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()

	if err := e.OnJobSubmitted(context.Background(), j); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobSubmitted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobSubmitted, evt.Action)
	}
	if evt.Metadata["job_name"] != "ntlm-batch" {
		t.Errorf("Metadata[job_name]: want %q, got %v", "ntlm-batch", evt.Metadata["job_name"])
	}
	if evt.Metadata["hash_type"] != "ntlm" {
		t.Errorf("Metadata[hash_type]: want %q, got %v", "ntlm", evt.Metadata["hash_type"])
	}
	if evt.Metadata["priority"] != 7 {
		t.Errorf("Metadata[priority]: want %d, got %v", 7, evt.Metadata["priority"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	j.CrackedCount = 42
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), j, elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Metadata["cracked_count"] != 42 {
		t.Errorf("Metadata[cracked_count]: want %d, got %v", 42, evt.Metadata["cracked_count"])
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	jobErr := errors.New("retry budget exhausted")

	if err := e.OnJobFailed(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionJobFailed, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "retry budget exhausted" {
		t.Errorf("Reason: want %q, got %q", "retry budget exhausted", evt.Reason)
	}
	if evt.Metadata["error"] != "retry budget exhausted" {
		t.Errorf("Metadata[error]: want %q, got %v", "retry budget exhausted", evt.Metadata["error"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()

	if err := e.OnJobCancelled(context.Background(), j); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCancelled {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCancelled, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
}

func TestExtension_PasswordCracked_OmitsPlaintext(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	jobID := id.NewJobID()
	cred := job.Credential{
		Hash:      "8846f7eaee8fb117ad06bdd830b7586c",
		Plain:     "hunter2",
		CrackedBy: id.NewNodeID(),
	}

	if err := e.OnPasswordCracked(context.Background(), jobID, cred); err != nil {
		t.Fatalf("OnPasswordCracked: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionPasswordCracked {
		t.Errorf("Action: want %q, got %q", ah.ActionPasswordCracked, evt.Action)
	}
	if evt.Metadata["hash"] != cred.Hash {
		t.Errorf("Metadata[hash]: want %q, got %v", cred.Hash, evt.Metadata["hash"])
	}
	if evt.Metadata["cracked_by"] != cred.CrackedBy.String() {
		t.Errorf("Metadata[cracked_by]: want %q, got %v", cred.CrackedBy.String(), evt.Metadata["cracked_by"])
	}

	// The plaintext must never reach the trail.
	for k, v := range evt.Metadata {
		if v == "hunter2" {
			t.Errorf("plaintext leaked into Metadata[%s]", k)
		}
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionNodeDead, ah.ActionUnitRequeued))

	ctx := context.Background()
	n := newTestNode()

	// Joined is NOT enabled — should be silently skipped.
	if err := e.OnNodeJoined(ctx, n); err != nil {
		t.Fatalf("OnNodeJoined: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (joined disabled), got %d", rec.count())
	}

	// Dead IS enabled — should be recorded.
	if err := e.OnNodeDead(ctx, n); err != nil {
		t.Fatalf("OnNodeDead: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (dead enabled), got %d", rec.count())
	}

	// Requeued IS enabled — should be recorded.
	j := newTestJob()
	if err := e.OnUnitRequeued(ctx, newTestUnit(j.ID), id.NewNodeID()); err != nil {
		t.Fatalf("OnUnitRequeued: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	n := newTestNode()

	if err := e.OnNodeJoined(context.Background(), n); err != nil {
		t.Fatalf("OnNodeJoined: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionNodeJoined {
		t.Errorf("Action: want %q, got %q", ah.ActionNodeJoined, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	n := newTestNode()

	// Hook should NOT return an error — audit failures must not block
	// the coordination loop.
	if err := e.OnNodeJoined(context.Background(), n); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	n := newTestNode()
	j := newTestJob()
	u := newTestUnit(j.ID)

	reg.EmitNodeJoined(ctx, n)
	reg.EmitNodeHealthChanged(ctx, n, membership.Healthy, membership.Suspect)
	reg.EmitNodeDead(ctx, n)
	reg.EmitNodeEvicted(ctx, n)
	reg.EmitLeaderChanged(ctx, n.ID, 3)
	reg.EmitElectionFailed(ctx, 4)
	reg.EmitUnitRequeued(ctx, u, n.ID)
	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 2*time.Second)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobCancelled(ctx, j)
	reg.EmitPasswordCracked(ctx, j.ID, job.Credential{Hash: "abc", Plain: "xyz", CrackedBy: n.ID})

	// Verify all 12 event types were recorded.
	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 12 {
		t.Errorf("expected 12 actions, got %d", len(actions))
	}
}
