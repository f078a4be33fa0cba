package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/engine"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/progress"
	"github.com/hashfleet/hashfleet/scheduler"
	"github.com/hashfleet/hashfleet/store"
	"github.com/hashfleet/hashfleet/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// trackerExt records lifecycle events for assertions.
type trackerExt struct {
	mu            sync.Mutex
	joined        []id.NodeID
	dead          []id.NodeID
	leaderChanges []id.NodeID
	requeued      int
	submitted     int
	cancelled     int
}

func (t *trackerExt) Name() string { return "tracker" }

func (t *trackerExt) OnNodeJoined(_ context.Context, n *membership.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined = append(t.joined, n.ID)
	return nil
}

func (t *trackerExt) OnNodeDead(_ context.Context, n *membership.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = append(t.dead, n.ID)
	return nil
}

func (t *trackerExt) OnLeaderChanged(_ context.Context, leader id.NodeID, _ uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaderChanges = append(t.leaderChanges, leader)
	return nil
}

func (t *trackerExt) OnUnitRequeued(_ context.Context, _ *job.WorkUnit, _ id.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requeued++
	return nil
}

func (t *trackerExt) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted++
	return nil
}

func (t *trackerExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled++
	return nil
}

func (t *trackerExt) joinedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.joined)
}

func (t *trackerExt) leaderCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leaderChanges)
}

// buildEngine creates a started single-node engine with fast timers.
// The node elects itself almost immediately since it has no peers.
func buildEngine(t *testing.T, st store.Store, opts ...engine.Option) (*hashfleet.Coordinator, *engine.Engine) {
	t.Helper()

	c, err := hashfleet.New(
		hashfleet.WithStore(st),
		hashfleet.WithLogger(testLogger()),
		hashfleet.WithAddr("127.0.0.1:0"),
		hashfleet.WithHeartbeatInterval(20*time.Millisecond),
		hashfleet.WithHealthTimeouts(60*time.Millisecond, 150*time.Millisecond),
		hashfleet.WithElectionTimeout(20*time.Millisecond, 40*time.Millisecond),
		hashfleet.WithTickInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	eng, err := engine.Build(c, opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c, eng
}

// startHeartbeats keeps a synthetic worker node alive until the
// returned stop function is called.
func startHeartbeats(ctx context.Context, eng *engine.Engine, nodeID id.NodeID) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = eng.Heartbeat(ctx, engine.Heartbeat{
					NodeID:  nodeID,
					Addr:    "10.0.0.7:9400",
					Metrics: membership.Metrics{CPU: 10},
				})
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newJob(space uint64) *job.Job {
	return &job.Job{
		Name:       "ntlm-batch",
		HashType:   "ntlm",
		Hashes:     []string{"aabb"},
		Attack:     job.Attack{Mode: job.AttackDictionary, Wordlist: "rockyou.txt"},
		Priority:   5,
		TotalSpace: space,
	}
}

func TestBuildRequiresStore(t *testing.T) {
	c, err := hashfleet.New(hashfleet.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(c); !errors.Is(err, hashfleet.ErrNoStore) {
		t.Errorf("want ErrNoStore, got %v", err)
	}
}

func TestBuildRejectsInvalidNodeID(t *testing.T) {
	c, err := hashfleet.New(
		hashfleet.WithStore(memory.New()),
		hashfleet.WithLogger(testLogger()),
		hashfleet.WithNodeID("not-a-typeid"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(c); err == nil {
		t.Error("want error for invalid node ID, got nil")
	}
}

func TestBuildPinsNodeID(t *testing.T) {
	want := id.NewNodeID()
	c, err := hashfleet.New(
		hashfleet.WithStore(memory.New()),
		hashfleet.WithLogger(testLogger()),
		hashfleet.WithNodeID(want.String()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng, err := engine.Build(c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if eng.Self() != want {
		t.Errorf("Self: want %s, got %s", want, eng.Self())
	}
}

func TestSingleNodeElectsItself(t *testing.T) {
	tracker := &trackerExt{}
	c, eng := buildEngine(t, memory.New(), engine.WithExtension(tracker))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	if eng.Term() == 0 {
		t.Error("Term: want > 0 after winning an election")
	}
	if tracker.leaderCount() == 0 {
		t.Error("no LeaderChanged event emitted")
	}
}

func TestSubmitBeforeLeadershipIsRefused(t *testing.T) {
	_, eng := buildEngine(t, memory.New())

	// Not started: no election has run, no leader is known.
	err := eng.SubmitJob(context.Background(), newJob(1000))
	if !errors.Is(err, hashfleet.ErrNoLeader) && !errors.Is(err, hashfleet.ErrNotLeader) {
		t.Errorf("want ErrNoLeader or ErrNotLeader, got %v", err)
	}
}

func TestSubmitAndAssign(t *testing.T) {
	st := memory.New()
	tracker := &trackerExt{}
	c, eng := buildEngine(t, st, engine.WithExtension(tracker))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	// A worker node joins and keeps heartbeating.
	worker := id.NewNodeID()
	stopHB := startHeartbeats(ctx, eng, worker)
	defer stopHB()
	waitFor(t, 2*time.Second, func() bool { return tracker.joinedCount() >= 2 }, "worker join")

	j := newJob(1000)
	if err := eng.SubmitJob(ctx, j); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	// The next ticks hand units to the worker.
	waitFor(t, 2*time.Second, func() bool {
		units, err := st.ListUnitsByNode(ctx, worker)
		return err == nil && len(units) > 0
	}, "unit assignment")

	status, err := eng.JobStatus(ctx, j.ID)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status.Job.State != job.StateRunning {
		t.Errorf("job state: want running, got %q", status.Job.State)
	}
}

func TestUnitLifecycleToCompletion(t *testing.T) {
	st := memory.New()
	c, eng := buildEngine(t, st)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	worker := id.NewNodeID()
	stopHB := startHeartbeats(ctx, eng, worker)
	defer stopHB()

	j := newJob(500)
	waitFor(t, 2*time.Second, func() bool {
		return eng.SubmitJob(ctx, j) == nil
	}, "job submission")

	// Wait for the worker to hold a unit, then report progress with a
	// cracked credential from its holder.
	var assigned *job.WorkUnit
	waitFor(t, 2*time.Second, func() bool {
		units, err := st.ListUnitsByNode(ctx, worker)
		if err != nil || len(units) == 0 {
			return false
		}
		assigned = units[0]
		return true
	}, "unit assignment")

	if err := eng.ReportProgress(ctx, progress.Report{
		NodeID:   worker,
		UnitID:   assigned.ID,
		Fraction: 0.5,
		Cracked: []job.Credential{{
			Hash:      "aabb",
			Plain:     "hunter2",
			CrackedBy: worker,
			CrackedAt: time.Now().UTC(),
		}},
		At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		u, err := st.GetUnit(ctx, assigned.ID)
		return err == nil && u.Fraction >= 0.5
	}, "progress apply")

	// Drive every assigned unit to Done with its current holder (the
	// space may have been split across the local node and the worker).
	// Once every unit is Done the job completes.
	waitFor(t, 3*time.Second, func() bool {
		units, err := st.ListUnitsByJob(ctx, j.ID)
		if err != nil {
			return false
		}
		for _, u := range units {
			if u.State.Active() {
				_ = eng.ReportResult(ctx, engine.Result{
					NodeID:  u.NodeID,
					UnitID:  u.ID,
					Outcome: scheduler.OutcomeDone,
				})
			}
		}
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "job completion")

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.CrackedCount != 1 {
		t.Errorf("CrackedCount: want 1, got %d", got.CrackedCount)
	}
}

func TestDeadNodeRequeuesUnits(t *testing.T) {
	st := memory.New()
	tracker := &trackerExt{}
	c, eng := buildEngine(t, st, engine.WithExtension(tracker))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	// The worker heartbeats until its unit is assigned, then goes
	// silent: the sweep marks it Suspect, then Dead.
	worker := id.NewNodeID()
	stopHB := startHeartbeats(ctx, eng, worker)

	j := newJob(500)
	waitFor(t, 2*time.Second, func() bool {
		return eng.SubmitJob(ctx, j) == nil
	}, "job submission")

	waitFor(t, 2*time.Second, func() bool {
		units, err := st.ListUnitsByNode(ctx, worker)
		return err == nil && len(units) > 0
	}, "unit assignment")

	stopHB()

	// DeadTimeout is 150ms; the sweep marks the node Dead and requeues.
	waitFor(t, 3*time.Second, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return len(tracker.dead) > 0 && tracker.requeued > 0
	}, "dead node requeue")

	units, err := st.ListUnitsByJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListUnitsByJob: %v", err)
	}
	for _, u := range units {
		if u.NodeID == worker && u.State.Active() {
			t.Errorf("unit %s still held by dead node", u.ID)
		}
	}
}

// TestThreeNodeFailoverScenario walks a full cluster story: three
// healthy nodes split a 300-candidate job into three units of 100,
// one node dies mid-unit, its work restarts from scratch elsewhere,
// and the job completes only after every range reports Done.
func TestThreeNodeFailoverScenario(t *testing.T) {
	st := memory.New()
	tracker := &trackerExt{}
	c, eng := buildEngine(t, st, engine.WithExtension(tracker))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	// The local node plus two workers make a three-node fleet.
	w1, w2 := id.NewNodeID(), id.NewNodeID()
	stopW1 := startHeartbeats(ctx, eng, w1)
	defer stopW1()
	stopW2 := startHeartbeats(ctx, eng, w2)
	defer stopW2()
	waitFor(t, 2*time.Second, func() bool { return tracker.joinedCount() >= 3 }, "fleet join")

	j := newJob(300)
	if err := eng.SubmitJob(ctx, j); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	units, err := st.ListUnitsByJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ListUnitsByJob: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("units: want 3, got %d", len(units))
	}
	var covered uint64
	for _, u := range units {
		if w := u.Range.End - u.Range.Start; w != 100 {
			t.Errorf("unit %d: range width %d, want 100", u.Index, w)
		}
		covered += u.Range.End - u.Range.Start
	}
	if covered != 300 {
		t.Errorf("ranges cover %d candidates, want 300", covered)
	}

	// All three units land on distinct nodes.
	holders := make(map[id.NodeID]id.UnitID)
	waitFor(t, 2*time.Second, func() bool {
		units, err := st.ListUnitsByJob(ctx, j.ID)
		if err != nil {
			return false
		}
		clear(holders)
		for _, u := range units {
			if u.State == job.UnitAssigned || u.State == job.UnitInProgress {
				holders[u.NodeID] = u.ID
			}
		}
		return len(holders) == 3
	}, "all units assigned")

	// w1 reports halfway, then dies.
	victim := holders[w1]
	if err := eng.ReportProgress(ctx, progress.Report{
		NodeID:   w1,
		UnitID:   victim,
		Fraction: 0.5,
		At:       time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}
	stopW1()

	waitFor(t, 3*time.Second, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return tracker.requeued > 0
	}, "victim unit requeue")

	// The survivors finish their units, freeing a node for the orphan.
	for node, unit := range holders {
		if node == w1 {
			continue
		}
		if err := eng.ReportResult(ctx, engine.Result{
			NodeID:  node,
			UnitID:  unit,
			Outcome: scheduler.OutcomeDone,
		}); err != nil {
			t.Fatalf("ReportResult(%s): %v", unit, err)
		}
	}

	// The orphaned unit restarts from zero on a live node.
	waitFor(t, 3*time.Second, func() bool {
		u, err := st.GetUnit(ctx, victim)
		return err == nil && u.State.Active() && u.NodeID != w1
	}, "victim unit reassignment")
	u, err := st.GetUnit(ctx, victim)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if u.Fraction != 0 {
		t.Errorf("reassigned unit fraction: want 0, got %v", u.Fraction)
	}

	// Two of three ranges Done is not a completed job.
	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateRunning {
		t.Errorf("job state before last unit: want running, got %q", got.State)
	}

	if err := eng.ReportResult(ctx, engine.Result{
		NodeID:  u.NodeID,
		UnitID:  victim,
		Outcome: scheduler.OutcomeDone,
	}); err != nil {
		t.Fatalf("ReportResult(final): %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		got, err := st.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "job completion")
}

func TestCancelJob(t *testing.T) {
	st := memory.New()
	tracker := &trackerExt{}
	c, eng := buildEngine(t, st, engine.WithExtension(tracker))

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	j := newJob(500)
	waitFor(t, 2*time.Second, func() bool {
		return eng.SubmitJob(ctx, j) == nil
	}, "job submission")

	if err := eng.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, err := st.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state: want cancelled, got %q", got.State)
	}

	// Cancelling again is refused: the job is terminal.
	if err := eng.CancelJob(ctx, j.ID); !errors.Is(err, hashfleet.ErrJobTerminal) {
		t.Errorf("second cancel: want ErrJobTerminal, got %v", err)
	}
}

func TestClusterStatus(t *testing.T) {
	c, eng := buildEngine(t, memory.New())

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	status, err := eng.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Self != eng.Self() {
		t.Errorf("Self: want %s, got %s", eng.Self(), status.Self)
	}
	if status.Leader != eng.Self() {
		t.Errorf("Leader: want self, got %s", status.Leader)
	}
	if status.TotalNodes < 1 || status.HealthyNodes < 1 {
		t.Errorf("node counts: total=%d healthy=%d, want >= 1", status.TotalNodes, status.HealthyNodes)
	}
}

func TestSnapshotSavedOnStop(t *testing.T) {
	st := memory.New()
	c, eng := buildEngine(t, st)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	j := newJob(500)
	waitFor(t, 2*time.Second, func() bool {
		return eng.SubmitJob(ctx, j) == nil
	}, "job submission")

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap, err := st.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot: %v", err)
	}
	if snap.Leader != eng.Self() {
		t.Errorf("snapshot leader: want %s, got %s", eng.Self(), snap.Leader)
	}
	if len(snap.Jobs) != 1 {
		t.Errorf("snapshot jobs: want 1, got %d", len(snap.Jobs))
	}
}

func TestLeaderReconcilesFromSnapshot(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	// A previous leader left behind a snapshot with a unit assigned to a
	// node that no longer heartbeats. The new leader must release it
	// before scheduling anything.
	ghost := id.NewNodeID()
	j := newJob(500)
	j.ID = id.NewJobID()
	j.Entity = hashfleet.NewEntity()
	j.State = job.StateRunning
	if err := st.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	now := time.Now().UTC()
	u := &job.WorkUnit{
		Entity:     hashfleet.NewEntity(),
		ID:         id.NewUnitID(),
		JobID:      j.ID,
		Index:      0,
		Range:      job.Range{Start: 0, End: 500},
		State:      job.UnitAssigned,
		NodeID:     ghost,
		Attempts:   1,
		AssignedAt: &now,
	}
	if err := st.CreateUnits(ctx, []*job.WorkUnit{u}); err != nil {
		t.Fatalf("CreateUnits: %v", err)
	}
	if err := st.SaveSnapshot(ctx, &store.Snapshot{
		ID:      id.NewEventID(),
		Term:    7,
		Leader:  ghost,
		TakenAt: now,
		Jobs:    []*job.Job{j},
		Units:   []*job.WorkUnit{u},
	}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	tracker := &trackerExt{}
	c, eng := buildEngine(t, st, engine.WithExtension(tracker))
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	// The ghost's assignment was released during reconcile. The unit may
	// already be reassigned to the new leader's node by a later tick, but
	// it can never still be pinned to the ghost.
	got, err := st.GetUnit(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.NodeID == ghost {
		t.Errorf("stale unit still pinned to ghost node %s", ghost)
	}
	tracker.mu.Lock()
	requeued := tracker.requeued
	tracker.mu.Unlock()
	if requeued == 0 {
		t.Error("no UnitRequeued event emitted during reconcile")
	}
}

func TestDeregister(t *testing.T) {
	st := memory.New()
	c, eng := buildEngine(t, st)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop(ctx) //nolint:errcheck

	waitFor(t, 2*time.Second, eng.IsLeader, "leadership")

	worker := id.NewNodeID()
	if err := eng.Heartbeat(ctx, engine.Heartbeat{NodeID: worker, Addr: "10.0.0.7:9400"}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, err := eng.Table().Get(worker)
		return err == nil
	}, "worker registration")

	if err := eng.Deregister(ctx, worker); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, err := eng.Table().Get(worker); !errors.Is(err, hashfleet.ErrNodeNotFound) {
		t.Errorf("want ErrNodeNotFound after deregister, got %v", err)
	}
}
