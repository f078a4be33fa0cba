package election

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/backoff"
	"github.com/hashfleet/hashfleet/id"
)

// Role is a node's position in the election cycle.
type Role string

const (
	Follower  Role = "follower"
	Candidate Role = "candidate"
	Leader    Role = "leader"
)

// PeerFunc reports the identities of currently healthy peers, excluding
// the local node. The Manager snapshots it at each decision point.
type PeerFunc func() []id.NodeID

// Manager runs the election state machine for one node.
type Manager struct {
	mu          sync.Mutex
	term        uint64
	role        Role
	leader      id.NodeID
	votedFor    id.NodeID
	votedTerm   uint64
	lastContact time.Time

	self      id.NodeID
	transport Transport
	peers     PeerFunc

	quorum      hashfleet.QuorumMode
	timeoutMin  time.Duration
	timeoutMax  time.Duration
	voteTimeout time.Duration

	onLeaderChanged func(leader id.NodeID, term uint64)
	onLeaderless    func(term uint64)

	logger *slog.Logger
	rng    *rand.Rand
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithQuorumMode selects how many grants a candidacy needs.
func WithQuorumMode(mode hashfleet.QuorumMode) ManagerOption {
	return func(m *Manager) { m.quorum = mode }
}

// WithElectionTimeout sets the randomized window a follower waits
// without leader contact before campaigning.
func WithElectionTimeout(min, max time.Duration) ManagerOption {
	return func(m *Manager) { m.timeoutMin, m.timeoutMax = min, max }
}

// WithVoteTimeout bounds each RequestVote round trip.
func WithVoteTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.voteTimeout = d }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// OnLeaderChanged registers a callback fired whenever the known leader
// changes, including when the local node wins.
func OnLeaderChanged(fn func(leader id.NodeID, term uint64)) ManagerOption {
	return func(m *Manager) { m.onLeaderChanged = fn }
}

// OnLeaderless registers a callback fired each time a campaign fails to
// secure quorum, leaving the cluster without a leader.
func OnLeaderless(fn func(term uint64)) ManagerOption {
	return func(m *Manager) { m.onLeaderless = fn }
}

// WithClock overrides the manager's time source. Test hook.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithRand seeds the randomized timeout source. Test hook.
func WithRand(rng *rand.Rand) ManagerOption {
	return func(m *Manager) { m.rng = rng }
}

// NewManager creates a follower-role manager for the local node.
func NewManager(self id.NodeID, transport Transport, peers PeerFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		role:        Follower,
		self:        self,
		transport:   transport,
		peers:       peers,
		quorum:      hashfleet.QuorumMajority,
		timeoutMin:  5 * time.Second,
		timeoutMax:  10 * time.Second,
		voteTimeout: 2 * time.Second,
		logger:      slog.Default(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastContact = m.now()
	return m
}

// Term returns the current term.
func (m *Manager) Term() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.term
}

// Role returns the node's current role.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Leader returns the last-known leader and whether one is known for
// the current term.
func (m *Manager) Leader() (id.NodeID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader, !m.leader.IsNil()
}

// IsLeader reports whether the local node currently holds leadership.
func (m *Manager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role == Leader
}

// ObserveLeader processes a leader claim (announcement or heartbeat
// piggyback). A claim with a stale term is rejected, and a sitting
// leader rejects an equal-term claim too: only a strictly higher term
// unseats it. A candidate yields on equal or higher terms.
func (m *Manager) ObserveLeader(from id.NodeID, term uint64) error {
	m.mu.Lock()

	if term < m.term {
		m.mu.Unlock()
		return hashfleet.ErrStaleTerm
	}
	if term == m.term && m.role == Leader && from != m.self {
		m.mu.Unlock()
		return hashfleet.ErrStaleTerm
	}

	changed := m.leader != from
	if term > m.term {
		m.term = term
		m.votedFor = id.Nil
	}
	if m.role != Follower && from != m.self {
		m.logger.Info("yielding to leader claim",
			slog.String("leader", from.String()),
			slog.Uint64("term", term),
			slog.String("was", string(m.role)))
		m.role = Follower
	}
	m.leader = from
	m.lastContact = m.now()
	fire := changed && m.onLeaderChanged != nil
	m.mu.Unlock()

	if fire {
		m.onLeaderChanged(from, term)
	}
	return nil
}

// HandleVoteRequest decides a peer's candidacy. At most one vote is
// granted per term. Among same-term candidates, the smaller identity
// defers: a candidate asked to vote for a larger ID steps down and
// grants.
func (m *Manager) HandleVoteRequest(req VoteRequest) VoteResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Term < m.term {
		return VoteResponse{Term: m.term, Granted: false}
	}

	if req.Term > m.term {
		m.term = req.Term
		m.role = Follower
		m.votedFor = id.Nil
		m.leader = id.Nil
	}

	if m.role == Candidate {
		// Same-term contention. Defer only if our ID is the smaller one.
		if m.self.String() < req.Candidate.String() {
			m.role = Follower
		} else {
			return VoteResponse{Term: m.term, Granted: false}
		}
	}

	if m.votedTerm == req.Term && !m.votedFor.IsNil() && m.votedFor != req.Candidate {
		return VoteResponse{Term: m.term, Granted: false}
	}

	m.votedFor = req.Candidate
	m.votedTerm = req.Term
	m.lastContact = m.now()
	return VoteResponse{Term: m.term, Granted: true}
}

// Campaign proposes a new term and solicits votes from all healthy
// peers. It returns true if the node won leadership. A failed campaign
// returns ErrNoQuorum; discovering a higher term returns ErrStaleTerm
// after adopting it.
func (m *Manager) Campaign(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.term++
	term := m.term
	m.role = Candidate
	m.votedFor = m.self
	m.votedTerm = term
	m.leader = id.Nil
	peers := m.peers()
	quorum := m.quorum
	voteTimeout := m.voteTimeout
	m.mu.Unlock()

	m.logger.Info("starting campaign",
		slog.Uint64("term", term),
		slog.Int("peers", len(peers)))

	needed := 1 // self vote
	if quorum == hashfleet.QuorumMajority {
		needed = (len(peers)+1)/2 + 1
	} else if len(peers) > 0 {
		needed = 2 // self plus one acknowledgment
	}

	var (
		grantMu  sync.Mutex
		grants   = 1 // self
		seenTerm = term
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, voteTimeout)
			defer cancel()

			resp, err := m.transport.RequestVote(vctx, peer, VoteRequest{Term: term, Candidate: m.self})
			if err != nil {
				// An unreachable peer simply contributes no vote.
				return nil
			}

			grantMu.Lock()
			if resp.Term > seenTerm {
				seenTerm = resp.Term
			}
			if resp.Granted {
				grants++
			}
			grantMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	m.mu.Lock()
	if seenTerm > m.term {
		m.term = seenTerm
		m.role = Follower
		m.votedFor = id.Nil
		m.mu.Unlock()
		return false, hashfleet.ErrStaleTerm
	}
	if m.term != term || m.role != Candidate {
		// Yielded to another claim while the votes were in flight.
		m.mu.Unlock()
		return false, hashfleet.ErrStaleTerm
	}
	if grants < needed {
		m.mu.Unlock()
		m.logger.Warn("campaign failed, no quorum",
			slog.Uint64("term", term),
			slog.Int("grants", grants),
			slog.Int("needed", needed))
		if m.onLeaderless != nil {
			m.onLeaderless(term)
		}
		return false, hashfleet.ErrNoQuorum
	}

	m.role = Leader
	m.leader = m.self
	m.lastContact = m.now()
	m.mu.Unlock()

	m.logger.Info("won leadership",
		slog.Uint64("term", term),
		slog.Int("grants", grants))

	m.announce(ctx, peers, Announcement{Term: term, Leader: m.self})
	if m.onLeaderChanged != nil {
		m.onLeaderChanged(m.self, term)
	}
	return true, nil
}

// ForceElection restarts the cycle with an incremented term, as
// triggered by an operator. The increment means a forced election can
// never decrease the term.
func (m *Manager) ForceElection(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.role = Follower
	m.leader = id.Nil
	m.mu.Unlock()
	return m.Campaign(ctx)
}

// StepDown voluntarily abandons leadership without changing the term,
// used during graceful shutdown.
func (m *Manager) StepDown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.role == Leader {
		m.role = Follower
		m.leader = id.Nil
	}
}

// Run drives the election timers until ctx is cancelled. A leader
// announces on heartbeatInterval; a follower campaigns after a
// randomized timeout without leader contact; failed campaigns retry
// with jittered exponential backoff while the leaderless window lasts.
func (m *Manager) Run(ctx context.Context, heartbeatInterval time.Duration) error {
	retry := backoff.DefaultElection()
	attempt := 0

	for {
		m.mu.Lock()
		role := m.role
		m.mu.Unlock()

		switch role {
		case Leader:
			attempt = 0
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(heartbeatInterval):
			}

			m.mu.Lock()
			term := m.term
			stillLeader := m.role == Leader
			peers := m.peers()
			m.mu.Unlock()
			if stillLeader {
				m.announce(ctx, peers, Announcement{Term: term, Leader: m.self})
			}

		default:
			timeout := m.electionTimeout()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(timeout):
			}

			m.mu.Lock()
			elapsed := m.now().Sub(m.lastContact)
			m.mu.Unlock()
			if elapsed < timeout {
				continue
			}

			won, err := m.Campaign(ctx)
			switch {
			case won:
				attempt = 0
			case errors.Is(err, hashfleet.ErrNoQuorum):
				attempt++
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retry.Delay(attempt)):
				}
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			default:
				attempt = 0
			}
		}
	}
}

func (m *Manager) electionTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	spread := m.timeoutMax - m.timeoutMin
	if spread <= 0 {
		return m.timeoutMin
	}
	return m.timeoutMin + time.Duration(m.rng.Int63n(int64(spread)))
}

// announce fans the leadership claim out to every peer, best effort.
func (m *Manager) announce(ctx context.Context, peers []id.NodeID, ann Announcement) {
	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, m.voteTimeout)
			defer cancel()
			if err := m.transport.Announce(actx, peer, ann); err != nil {
				m.logger.Debug("announce failed",
					slog.String("peer", peer.String()),
					slog.String("error", err.Error()))
			}
		}()
	}
	wg.Wait()
}
