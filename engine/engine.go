package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/election"
	"github.com/hashfleet/hashfleet/ext"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/observability"
	"github.com/hashfleet/hashfleet/progress"
	"github.com/hashfleet/hashfleet/scheduler"
	"github.com/hashfleet/hashfleet/store"
	"github.com/hashfleet/hashfleet/stream"
)

// Heartbeat is a node's periodic liveness and resource report.
type Heartbeat struct {
	NodeID  id.NodeID          `json:"node_id"`
	Addr    string             `json:"addr"`
	Metrics membership.Metrics `json:"metrics"`
	At      time.Time          `json:"at"`
}

// Result is a node's final verdict on a work unit.
type Result struct {
	NodeID  id.NodeID         `json:"node_id"`
	UnitID  id.UnitID         `json:"unit_id"`
	Outcome scheduler.Outcome `json:"outcome"`
}

// ClusterStatus summarizes cluster-wide state for operator queries.
type ClusterStatus struct {
	Self         id.NodeID          `json:"self"`
	Role         election.Role      `json:"role"`
	Leader       id.NodeID          `json:"leader"`
	Term         uint64             `json:"term"`
	TotalNodes   int                `json:"total_nodes"`
	HealthyNodes int                `json:"healthy_nodes"`
	Nodes        []*membership.Node `json:"nodes"`
	PendingJobs  int64              `json:"pending_jobs"`
	RunningJobs  int64              `json:"running_jobs"`
}

// command is an operator mutation executed on the coordination goroutine.
type command struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Engine drives cluster coordination for one node. Use Build() to
// create one from a Coordinator.
type Engine struct {
	coord      *hashfleet.Coordinator
	cfg        hashfleet.Config
	self       id.NodeID
	st         store.Store
	extensions *ext.Registry
	broker     *stream.Broker
	table      *membership.Table
	elect      *election.Manager
	sched      *scheduler.Scheduler
	agg        *progress.Aggregator
	sender     scheduler.Sender
	transport  election.Transport
	logger     *slog.Logger

	heartbeatCh chan Heartbeat
	progressCh  chan progress.Report
	resultCh    chan Result
	commandCh   chan command

	// leaderGainedCh wakes the run loop to reconcile after winning an
	// election; the reconcile itself must run on the coordinating
	// goroutine, not in the election manager's callback.
	leaderGainedCh chan uint64

	// ready flips true once post-election reconciliation finishes; the
	// operator API answers ErrReconciling while it is false on a leader.
	ready atomic.Bool

	// lastHealthy is the healthy node count seen by the previous tick.
	// Only the run goroutine touches it. Zero means no count observed
	// yet, so the first tick after gaining leadership never rebalances.
	lastHealthy int

	meterProvider metric.MeterProvider

	cancel  context.CancelFunc
	group   *errgroup.Group
	started atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithSender sets the outbound instruction channel used to deliver work
// assignments and stop requests to nodes. If not set, assignments are
// observable only through the stream broker (in-process deployments).
func WithSender(s scheduler.Sender) Option {
	return func(eng *Engine) { eng.sender = s }
}

// WithTransport sets the election transport used to reach peers. If not
// set, the engine runs standalone: with no reachable peers a majority
// of one means the local node elects itself.
func WithTransport(t election.Transport) Option {
	return func(eng *Engine) { eng.transport = t }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine's
// observability extension. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from a Coordinator. The Coordinator's store
// must implement the composite store.Store interface.
func Build(c *hashfleet.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	cfg := c.Config()

	if c.Store() == nil {
		return nil, hashfleet.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("hashfleet: store does not implement store.Store")
	}

	self := id.NewNodeID()
	if c.NodeID() != "" {
		parsed, err := id.ParseNodeID(c.NodeID())
		if err != nil {
			return nil, fmt.Errorf("hashfleet: invalid node ID %q: %w", c.NodeID(), err)
		}
		self = parsed
	}

	eng := &Engine{
		coord:          c,
		cfg:            cfg,
		self:           self,
		st:             st,
		extensions:     ext.NewRegistry(logger),
		logger:         logger,
		heartbeatCh:    make(chan Heartbeat, 256),
		progressCh:     make(chan progress.Report, 256),
		resultCh:       make(chan Result, 64),
		commandCh:      make(chan command),
		leaderGainedCh: make(chan uint64, 1),
	}

	eng.table = membership.NewTable(cfg.SuspectTimeout, cfg.DeadTimeout, cfg.EvictionGrace)
	eng.agg = progress.NewAggregator()
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	for _, opt := range opts {
		opt(eng)
	}

	// Register the observability metrics extension.
	var (
		obsExt *observability.MetricsExtension
		obsErr error
	)
	if eng.meterProvider != nil {
		obsExt, obsErr = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("hashfleet/observability"))
	} else {
		obsExt, obsErr = observability.NewMetricsExtension()
	}
	if obsErr != nil {
		return nil, fmt.Errorf("hashfleet: build metrics extension: %w", obsErr)
	}
	eng.extensions.Register(obsExt)

	if eng.sender == nil {
		eng.sender = localSender{}
	}
	if eng.transport == nil {
		eng.transport = standaloneTransport{}
	}

	eng.sched = scheduler.New(st, eng.table, eng.sender, eng.agg,
		scheduler.WithRegistry(eng.extensions),
		scheduler.WithRetryBudget(cfg.RetryBudget),
		scheduler.WithLogger(logger),
	)

	eng.elect = election.NewManager(self, eng.transport, eng.healthyPeers,
		election.WithQuorumMode(cfg.QuorumMode),
		election.WithElectionTimeout(cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax),
		election.WithLogger(logger),
		election.OnLeaderChanged(eng.onLeaderChanged),
		election.OnLeaderless(eng.onLeaderless),
	)

	c.SetEngine(eng)
	c.SetExtensions(eng.extensions)
	return eng, nil
}

// healthyPeers reports currently healthy nodes excluding the local one.
func (eng *Engine) healthyPeers() []id.NodeID {
	var peers []id.NodeID
	for nodeID := range eng.table.ListHealthy() {
		if nodeID != eng.self {
			peers = append(peers, nodeID)
		}
	}
	return peers
}

func (eng *Engine) onLeaderChanged(leader id.NodeID, term uint64) {
	if leader == eng.self {
		// Reconciliation happens on the coordination goroutine; block
		// the operator API until it completes.
		eng.ready.Store(false)
		select {
		case eng.leaderGainedCh <- term:
		default:
		}
	} else {
		eng.ready.Store(false)
	}
	eng.extensions.EmitLeaderChanged(context.Background(), leader, term)
}

func (eng *Engine) onLeaderless(term uint64) {
	eng.extensions.EmitElectionFailed(context.Background(), term)
}

// Start launches the coordination loop and the election state machine.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.started.Swap(true) {
		return fmt.Errorf("hashfleet: engine already started")
	}

	ctx, eng.cancel = context.WithCancel(ctx)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	self := &membership.Node{
		Entity:   hashfleet.NewEntity(),
		ID:       eng.self,
		Addr:     eng.cfg.Addr,
		Hostname: hostname,
		LastSeen: time.Now().UTC(),
	}
	eng.table.Register(self)
	if upErr := eng.st.UpsertNode(ctx, self); upErr != nil {
		eng.logger.Warn("failed to persist self node",
			slog.String("node_id", eng.self.String()),
			slog.String("error", upErr.Error()))
	}
	eng.extensions.EmitNodeJoined(ctx, self)

	g, gctx := errgroup.WithContext(ctx)
	eng.group = g
	g.Go(func() error { return eng.run(gctx) })
	g.Go(func() error { return eng.elect.Run(gctx, eng.cfg.HeartbeatInterval) })

	eng.logger.Info("engine started",
		slog.String("node_id", eng.self.String()),
		slog.String("addr", eng.cfg.Addr))
	return nil
}

// Stop steps down from leadership, persists a final snapshot and waits
// for the coordination loop to drain, bounded by ShutdownTimeout.
func (eng *Engine) Stop(ctx context.Context) error {
	if !eng.started.Load() {
		return nil
	}

	wasLeader := eng.elect.IsLeader()
	eng.elect.StepDown()

	if wasLeader && eng.ready.Load() {
		sctx, cancel := context.WithTimeout(context.Background(), eng.cfg.ShutdownTimeout)
		if err := eng.saveSnapshot(sctx); err != nil {
			eng.logger.Warn("final snapshot failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	eng.cancel()

	done := make(chan error, 1)
	go func() { done <- eng.group.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		eng.logger.Info("engine stopped", slog.String("node_id", eng.self.String()))
		return nil
	case <-time.After(eng.cfg.ShutdownTimeout):
		return fmt.Errorf("hashfleet: shutdown timed out after %s", eng.cfg.ShutdownTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Coordination loop ───────────────────────────────

// run is the single goroutine allowed to mutate membership, job and
// unit state. Everything else funnels through channels.
func (eng *Engine) run(ctx context.Context) error {
	tick := time.NewTicker(eng.cfg.TickInterval)
	defer tick.Stop()
	snap := time.NewTicker(eng.cfg.SnapshotInterval)
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case term := <-eng.leaderGainedCh:
			eng.assumeLeadership(ctx, term)

		case hb := <-eng.heartbeatCh:
			eng.applyHeartbeat(ctx, hb)

		case r := <-eng.progressCh:
			if eng.leading() {
				if err := eng.sched.ApplyProgress(ctx, r); err != nil {
					eng.logger.Warn("progress apply failed",
						slog.String("unit_id", r.UnitID.String()),
						slog.String("error", err.Error()))
				}
			}

		case res := <-eng.resultCh:
			if eng.leading() {
				if err := eng.sched.HandleResult(ctx, res.NodeID, res.UnitID, res.Outcome); err != nil {
					eng.logger.Warn("result handling failed",
						slog.String("unit_id", res.UnitID.String()),
						slog.String("error", err.Error()))
				}
			}

		case cmd := <-eng.commandCh:
			cmd.done <- cmd.fn(ctx)

		case <-tick.C:
			// The loop ticking is the local node's own liveness proof;
			// metrics stay whatever the local agent last reported.
			if n, err := eng.table.Get(eng.self); err == nil {
				eng.table.RecordHeartbeat(eng.self, n.Addr, n.Metrics, time.Now().UTC())
			}
			eng.sweep(ctx)
			if eng.leading() {
				eng.rebalanceOnFleetChange(ctx)
				if _, err := eng.sched.Tick(ctx); err != nil {
					eng.logger.Warn("scheduler tick failed", slog.String("error", err.Error()))
				}
			}

		case <-snap.C:
			if eng.leading() {
				if err := eng.saveSnapshot(ctx); err != nil {
					eng.logger.Warn("snapshot failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (eng *Engine) leading() bool {
	return eng.elect.IsLeader() && eng.ready.Load()
}

// applyHeartbeat folds a heartbeat into the membership table and
// persists the node record.
func (eng *Engine) applyHeartbeat(ctx context.Context, hb Heartbeat) {
	at := hb.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	n, joined := eng.table.RecordHeartbeat(hb.NodeID, hb.Addr, hb.Metrics, at)
	if upErr := eng.st.UpsertNode(ctx, n); upErr != nil {
		eng.logger.Warn("failed to persist node",
			slog.String("node_id", n.ID.String()),
			slog.String("error", upErr.Error()))
	}
	if joined {
		eng.logger.Info("node joined",
			slog.String("node_id", n.ID.String()),
			slog.String("addr", n.Addr))
		eng.extensions.EmitNodeJoined(ctx, n)
	}
}

// sweep re-derives node health, emits transitions, requeues the units
// of nodes that died and purges nodes past their audit window.
func (eng *Engine) sweep(ctx context.Context) {
	transitions, evicted := eng.table.Sweep()

	for _, tr := range transitions {
		eng.extensions.EmitNodeHealthChanged(ctx, tr.Node, tr.From, tr.To)
		if tr.To != membership.Dead {
			continue
		}
		eng.extensions.EmitNodeDead(ctx, tr.Node)
		if eng.leading() {
			if err := eng.sched.OnNodeLost(ctx, tr.Node.ID); err != nil {
				eng.logger.Error("failed to requeue units of dead node",
					slog.String("node_id", tr.Node.ID.String()),
					slog.String("error", err.Error()))
			}
		}
	}

	for _, n := range evicted {
		eng.logger.Info("node evicted", slog.String("node_id", n.ID.String()))
		if err := eng.st.DeleteNode(ctx, n.ID.String()); err != nil && !errors.Is(err, hashfleet.ErrNodeNotFound) {
			eng.logger.Warn("failed to delete evicted node",
				slog.String("node_id", n.ID.String()),
				slog.String("error", err.Error()))
		}
		eng.extensions.EmitNodeEvicted(ctx, n)
	}
}

// assumeLeadership runs the failover sequence after winning an
// election: restore the latest snapshot, revalidate every active
// assignment, and only then open the scheduling gate. A snapshot load
// failure refuses leadership rather than risking double assignment.
func (eng *Engine) assumeLeadership(ctx context.Context, term uint64) {
	snap, err := eng.st.LoadLatestSnapshot(ctx)
	switch {
	case errors.Is(err, hashfleet.ErrNoSnapshot):
		// Fresh cluster.
	case err != nil:
		eng.logger.Error("snapshot load failed, refusing leadership",
			slog.Uint64("term", term),
			slog.String("error", err.Error()))
		eng.elect.StepDown()
		return
	default:
		for _, n := range snap.Nodes {
			eng.table.Register(n)
		}
		eng.logger.Info("snapshot restored",
			slog.Uint64("snapshot_term", snap.Term),
			slog.Int("nodes", len(snap.Nodes)),
			slog.Time("taken_at", snap.TakenAt))
	}

	released, recErr := eng.sched.Reconcile(ctx)
	if recErr != nil {
		eng.logger.Error("reconcile failed, refusing leadership",
			slog.Uint64("term", term),
			slog.String("error", recErr.Error()))
		eng.elect.StepDown()
		return
	}

	eng.lastHealthy = 0
	eng.ready.Store(true)
	eng.logger.Info("leadership assumed",
		slog.Uint64("term", term),
		slog.Int("released_units", released))
}

// rebalanceOnFleetChange re-plans the undistributed tails of active
// jobs when the healthy node count moves between ticks, so a grown
// fleet gets units to fill it and a shrunken one stops over-splitting.
func (eng *Engine) rebalanceOnFleetChange(ctx context.Context) {
	healthy := 0
	for range eng.table.ListHealthy() {
		healthy++
	}
	prev := eng.lastHealthy
	eng.lastHealthy = healthy

	if prev == 0 || healthy == prev || healthy == 0 {
		return
	}

	n, err := eng.sched.Rebalance(ctx, healthy)
	if err != nil {
		eng.logger.Warn("fleet rebalance failed",
			slog.Int("healthy_nodes", healthy),
			slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		eng.logger.Info("fleet changed, job tails rebalanced",
			slog.Int("healthy_nodes", healthy),
			slog.Int("jobs", n))
	}
}

// saveSnapshot persists the full cluster state for failover recovery.
func (eng *Engine) saveSnapshot(ctx context.Context) error {
	jobs, err := eng.st.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	var units []*job.WorkUnit
	for _, j := range jobs {
		ju, err := eng.st.ListUnitsByJob(ctx, j.ID)
		if err != nil {
			return fmt.Errorf("list units for job %s: %w", j.ID, err)
		}
		units = append(units, ju...)
	}

	s := &store.Snapshot{
		ID:      id.NewEventID(),
		Term:    eng.elect.Term(),
		Leader:  eng.self,
		TakenAt: time.Now().UTC(),
		Nodes:   eng.table.Snapshot(),
		Jobs:    jobs,
		Units:   units,
	}
	if err := eng.st.SaveSnapshot(ctx, s); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	eng.logger.Debug("snapshot saved",
		slog.Uint64("term", s.Term),
		slog.Int("nodes", len(s.Nodes)),
		slog.Int("jobs", len(jobs)),
		slog.Int("units", len(units)))
	return nil
}

// ── Ingestion API ───────────────────────────────────

// Heartbeat ingests a node's liveness report.
func (eng *Engine) Heartbeat(ctx context.Context, hb Heartbeat) error {
	select {
	case eng.heartbeatCh <- hb:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportProgress ingests a node's progress report for its unit.
func (eng *Engine) ReportProgress(ctx context.Context, r progress.Report) error {
	select {
	case eng.progressCh <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportResult ingests a node's final verdict on a unit.
func (eng *Engine) ReportResult(ctx context.Context, res Result) error {
	select {
	case eng.resultCh <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Operator API ────────────────────────────────────

// do executes an operator mutation on the coordination goroutine.
func (eng *Engine) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case eng.commandCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requireLeadership gates operator mutations on reconciled leadership.
func (eng *Engine) requireLeadership() error {
	if !eng.elect.IsLeader() {
		if _, known := eng.elect.Leader(); !known {
			return hashfleet.ErrNoLeader
		}
		return hashfleet.ErrNotLeader
	}
	if !eng.ready.Load() {
		return hashfleet.ErrReconciling
	}
	return nil
}

// SubmitJob partitions and enqueues a new cracking job. Only the
// reconciled leader accepts submissions.
func (eng *Engine) SubmitJob(ctx context.Context, j *job.Job) error {
	if err := eng.requireLeadership(); err != nil {
		return err
	}
	return eng.do(ctx, func(ctx context.Context) error {
		if err := eng.requireLeadership(); err != nil {
			return err
		}
		return eng.sched.Submit(ctx, j)
	})
}

// CancelJob cancels a job and stops its in-flight units.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	if err := eng.requireLeadership(); err != nil {
		return err
	}
	return eng.do(ctx, func(ctx context.Context) error {
		if err := eng.requireLeadership(); err != nil {
			return err
		}
		return eng.sched.Cancel(ctx, jobID)
	})
}

// Deregister removes a node that announced a graceful shutdown. A node
// still holding a unit is refused; the caller should report the unit's
// result first.
func (eng *Engine) Deregister(ctx context.Context, nodeID id.NodeID) error {
	return eng.do(ctx, func(ctx context.Context) error {
		if err := eng.table.Remove(nodeID); err != nil {
			return err
		}
		if err := eng.st.DeleteNode(ctx, nodeID.String()); err != nil && !errors.Is(err, hashfleet.ErrNodeNotFound) {
			return err
		}
		return nil
	})
}

// ForceElection triggers a new election round, as requested by an
// operator. The term always increases, so a forced election can never
// resurrect a stale leader.
func (eng *Engine) ForceElection(ctx context.Context) (bool, error) {
	return eng.elect.ForceElection(ctx)
}

// JobStatus returns the current progress view of a job.
func (eng *Engine) JobStatus(ctx context.Context, jobID id.JobID) (*scheduler.JobProgress, error) {
	return eng.sched.Progress(ctx, jobID)
}

// Status returns a cluster-wide status summary. Safe on any node; a
// follower reports its own view of membership and the known leader.
func (eng *Engine) Status(ctx context.Context) (*ClusterStatus, error) {
	leader, _ := eng.elect.Leader()

	nodes := eng.table.Snapshot()
	healthy := 0
	for range eng.table.ListHealthy() {
		healthy++
	}

	pending, err := eng.st.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if err != nil {
		return nil, fmt.Errorf("count pending jobs: %w", err)
	}
	running, err := eng.st.CountJobs(ctx, job.CountOpts{State: job.StateRunning})
	if err != nil {
		return nil, fmt.Errorf("count running jobs: %w", err)
	}

	return &ClusterStatus{
		Self:         eng.self,
		Role:         eng.elect.Role(),
		Leader:       leader,
		Term:         eng.elect.Term(),
		TotalNodes:   len(nodes),
		HealthyNodes: healthy,
		Nodes:        nodes,
		PendingJobs:  pending,
		RunningJobs:  running,
	}, nil
}

// ── Election passthroughs (used by the wire server) ─

// HandleVoteRequest decides a peer's candidacy.
func (eng *Engine) HandleVoteRequest(req election.VoteRequest) election.VoteResponse {
	return eng.elect.HandleVoteRequest(req)
}

// ObserveLeader processes a leader announcement from a peer.
func (eng *Engine) ObserveLeader(from id.NodeID, term uint64) error {
	return eng.elect.ObserveLeader(from, term)
}

// ── Accessors ───────────────────────────────────────

// Self returns the local node's identity.
func (eng *Engine) Self() id.NodeID { return eng.self }

// IsLeader reports whether the local node holds reconciled leadership.
func (eng *Engine) IsLeader() bool { return eng.leading() }

// Leader returns the currently known leader, if any.
func (eng *Engine) Leader() (id.NodeID, bool) { return eng.elect.Leader() }

// Term returns the current election term.
func (eng *Engine) Term() uint64 { return eng.elect.Term() }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Broker returns the stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Table returns the membership table.
func (eng *Engine) Table() *membership.Table { return eng.table }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.st }

// ── Default collaborators ───────────────────────────

// localSender is the in-process Sender: delivery always succeeds and
// assignments reach interested parties through the stream broker.
type localSender struct{}

func (localSender) SendAssignment(context.Context, id.NodeID, *job.Job, *job.WorkUnit) error {
	return nil
}

func (localSender) SendStop(context.Context, id.NodeID, id.UnitID) error {
	return nil
}

// standaloneTransport is used when no peer transport is wired. It only
// errors; a standalone node has no peers to reach, so the election
// manager never actually calls it.
type standaloneTransport struct{}

func (standaloneTransport) RequestVote(context.Context, id.NodeID, election.VoteRequest) (election.VoteResponse, error) {
	return election.VoteResponse{}, fmt.Errorf("hashfleet: no election transport configured")
}

func (standaloneTransport) Announce(context.Context, id.NodeID, election.Announcement) error {
	return fmt.Errorf("hashfleet: no election transport configured")
}
