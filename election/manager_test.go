package election

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
)

// memTransport routes election traffic between managers in-process.
type memTransport struct {
	mu       sync.Mutex
	managers map[string]*Manager
	down     map[string]bool
}

func newMemTransport() *memTransport {
	return &memTransport{
		managers: make(map[string]*Manager),
		down:     make(map[string]bool),
	}
}

func (t *memTransport) add(m *Manager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.managers[m.self.String()] = m
}

func (t *memTransport) partition(nodeID id.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down[nodeID.String()] = true
}

func (t *memTransport) RequestVote(_ context.Context, target id.NodeID, req VoteRequest) (VoteResponse, error) {
	t.mu.Lock()
	m, ok := t.managers[target.String()]
	unreachable := t.down[target.String()]
	t.mu.Unlock()
	if !ok || unreachable {
		return VoteResponse{}, errors.New("peer unreachable")
	}
	return m.HandleVoteRequest(req), nil
}

func (t *memTransport) Announce(_ context.Context, target id.NodeID, ann Announcement) error {
	t.mu.Lock()
	m, ok := t.managers[target.String()]
	unreachable := t.down[target.String()]
	t.mu.Unlock()
	if !ok || unreachable {
		return errors.New("peer unreachable")
	}
	return m.ObserveLeader(ann.Leader, ann.Term)
}

// cluster wires n managers over one transport with static peer lists.
func newCluster(t *testing.T, n int) ([]*Manager, *memTransport) {
	t.Helper()
	tr := newMemTransport()

	ids := make([]id.NodeID, n)
	for i := range ids {
		ids[i] = id.NewNodeID()
	}

	managers := make([]*Manager, n)
	for i := range managers {
		self := ids[i]
		peers := func() []id.NodeID {
			var out []id.NodeID
			for _, other := range ids {
				if other != self {
					out = append(out, other)
				}
			}
			return out
		}
		managers[i] = NewManager(self, tr, peers)
		tr.add(managers[i])
	}
	return managers, tr
}

// ── campaigns ───────────────────────────────────────────────────────

func TestCampaignWinsMajority(t *testing.T) {
	managers, _ := newCluster(t, 3)

	won, err := managers[0].Campaign(context.Background())
	if err != nil {
		t.Fatalf("Campaign: %v", err)
	}
	if !won {
		t.Fatal("candidate with full connectivity should win")
	}
	if managers[0].Role() != Leader {
		t.Fatalf("role = %v, want Leader", managers[0].Role())
	}

	// The announcement reached the followers.
	for i := 1; i < 3; i++ {
		leader, ok := managers[i].Leader()
		if !ok || leader != managers[0].self {
			t.Fatalf("manager %d leader = %v ok=%v", i, leader, ok)
		}
		if managers[i].Term() != managers[0].Term() {
			t.Fatalf("manager %d term = %d, want %d", i, managers[i].Term(), managers[0].Term())
		}
	}
}

func TestCampaignNoQuorum(t *testing.T) {
	managers, tr := newCluster(t, 3)
	tr.partition(managers[1].self)
	tr.partition(managers[2].self)

	var leaderlessTerm uint64
	managers[0].onLeaderless = func(term uint64) { leaderlessTerm = term }

	won, err := managers[0].Campaign(context.Background())
	if won {
		t.Fatal("campaign without reachable peers must not win a 3-node majority")
	}
	if !errors.Is(err, hashfleet.ErrNoQuorum) {
		t.Fatalf("err = %v, want ErrNoQuorum", err)
	}
	if leaderlessTerm != managers[0].Term() {
		t.Fatal("leaderless callback not fired for the failed term")
	}
	if managers[0].Role() != Candidate {
		t.Fatalf("role after failed campaign = %v, want Candidate", managers[0].Role())
	}
}

func TestCampaignSingleNode(t *testing.T) {
	managers, _ := newCluster(t, 1)
	won, err := managers[0].Campaign(context.Background())
	if err != nil || !won {
		t.Fatalf("single-node campaign = %v, %v, want win", won, err)
	}
}

func TestCampaignSingleAckMode(t *testing.T) {
	managers, tr := newCluster(t, 4)
	for _, m := range managers {
		m.quorum = hashfleet.QuorumSingleAck
	}
	// Only one of the three peers reachable: not a majority, but one ack.
	tr.partition(managers[2].self)
	tr.partition(managers[3].self)

	won, err := managers[0].Campaign(context.Background())
	if err != nil || !won {
		t.Fatalf("single-ack campaign = %v, %v, want win", won, err)
	}
}

// ── term discipline ─────────────────────────────────────────────────

func TestOneVotePerTerm(t *testing.T) {
	managers, _ := newCluster(t, 3)
	voter := managers[0]

	a, b := id.NewNodeID(), id.NewNodeID()
	if resp := voter.HandleVoteRequest(VoteRequest{Term: 5, Candidate: a}); !resp.Granted {
		t.Fatal("first vote in term 5 should be granted")
	}
	if resp := voter.HandleVoteRequest(VoteRequest{Term: 5, Candidate: b}); resp.Granted {
		t.Fatal("second candidate in the same term must be denied")
	}
	// Repeating the same candidacy is idempotent.
	if resp := voter.HandleVoteRequest(VoteRequest{Term: 5, Candidate: a}); !resp.Granted {
		t.Fatal("re-request from the voted-for candidate should be granted")
	}
}

func TestStaleTermRejected(t *testing.T) {
	managers, _ := newCluster(t, 2)
	m := managers[0]
	m.ObserveLeader(managers[1].self, 7)

	if resp := m.HandleVoteRequest(VoteRequest{Term: 3, Candidate: id.NewNodeID()}); resp.Granted {
		t.Fatal("stale-term candidacy must be denied")
	}
	if err := m.ObserveLeader(id.NewNodeID(), 2); !errors.Is(err, hashfleet.ErrStaleTerm) {
		t.Fatalf("stale claim err = %v, want ErrStaleTerm", err)
	}
	if m.Term() != 7 {
		t.Fatalf("term = %d, want 7", m.Term())
	}
}

func TestLeaderYieldsToHigherTerm(t *testing.T) {
	managers, _ := newCluster(t, 3)
	if won, _ := managers[0].Campaign(context.Background()); !won {
		t.Fatal("setup: campaign should win")
	}

	usurper := id.NewNodeID()
	if err := managers[0].ObserveLeader(usurper, managers[0].Term()+1); err != nil {
		t.Fatalf("ObserveLeader: %v", err)
	}
	if managers[0].Role() != Follower {
		t.Fatalf("role = %v, want Follower after higher-term claim", managers[0].Role())
	}
	leader, _ := managers[0].Leader()
	if leader != usurper {
		t.Fatal("leader not updated to the higher-term claimant")
	}
}

func TestLeaderKeepsEqualTermClaim(t *testing.T) {
	managers, _ := newCluster(t, 3)
	if won, _ := managers[0].Campaign(context.Background()); !won {
		t.Fatal("setup: campaign should win")
	}
	term := managers[0].Term()

	// An equal-term claim from another node does not unseat a sitting
	// leader; only a strictly higher term does.
	if err := managers[0].ObserveLeader(id.NewNodeID(), term); !errors.Is(err, hashfleet.ErrStaleTerm) {
		t.Fatalf("equal-term claim err = %v, want ErrStaleTerm", err)
	}
	if managers[0].Role() != Leader {
		t.Fatalf("role = %v, want Leader after equal-term claim", managers[0].Role())
	}
	leader, _ := managers[0].Leader()
	if leader != managers[0].self {
		t.Fatal("leader must remain self after rejecting an equal-term claim")
	}
}

func TestSameTermTieBreak(t *testing.T) {
	managers, _ := newCluster(t, 2)

	// Order the two nodes by identity.
	small, large := managers[0], managers[1]
	if small.self.String() > large.self.String() {
		small, large = large, small
	}

	// Both become candidates in the same term without exchanging votes.
	small.mu.Lock()
	small.term, small.role, small.votedFor, small.votedTerm = 3, Candidate, small.self, 3
	small.mu.Unlock()
	large.mu.Lock()
	large.term, large.role, large.votedFor, large.votedTerm = 3, Candidate, large.self, 3
	large.mu.Unlock()

	// The smaller node, asked to vote for the larger, defers and grants.
	if resp := small.HandleVoteRequest(VoteRequest{Term: 3, Candidate: large.self}); !resp.Granted {
		t.Fatal("smaller candidate should defer to the larger identity")
	}
	if small.Role() != Follower {
		t.Fatalf("smaller candidate role = %v, want Follower", small.Role())
	}

	// The larger node denies the smaller one's request.
	if resp := large.HandleVoteRequest(VoteRequest{Term: 3, Candidate: small.self}); resp.Granted {
		t.Fatal("larger candidate must not defer to the smaller identity")
	}
}

// ── forced elections ────────────────────────────────────────────────

func TestForceElectionIncrementsTerm(t *testing.T) {
	managers, _ := newCluster(t, 3)
	if won, _ := managers[0].Campaign(context.Background()); !won {
		t.Fatal("setup: campaign should win")
	}
	before := managers[0].Term()

	won, err := managers[1].ForceElection(context.Background())
	if err != nil {
		t.Fatalf("ForceElection: %v", err)
	}
	if !won {
		t.Fatal("forced election with full connectivity should win")
	}
	if got := managers[1].Term(); got <= before {
		t.Fatalf("forced election term = %d, want > %d", got, before)
	}

	// The old leader yielded to the new claim.
	if managers[0].Role() != Follower {
		t.Fatalf("old leader role = %v, want Follower", managers[0].Role())
	}
}

func TestLeaderChangedCallback(t *testing.T) {
	managers, _ := newCluster(t, 3)

	var gotLeader id.NodeID
	var gotTerm uint64
	managers[1].onLeaderChanged = func(leader id.NodeID, term uint64) {
		gotLeader, gotTerm = leader, term
	}

	if won, _ := managers[0].Campaign(context.Background()); !won {
		t.Fatal("setup: campaign should win")
	}
	if gotLeader != managers[0].self {
		t.Fatalf("callback leader = %v, want %v", gotLeader, managers[0].self)
	}
	if gotTerm != managers[0].Term() {
		t.Fatalf("callback term = %d, want %d", gotTerm, managers[0].Term())
	}
}

func TestStepDown(t *testing.T) {
	managers, _ := newCluster(t, 1)
	managers[0].Campaign(context.Background())
	term := managers[0].Term()

	managers[0].StepDown()
	if managers[0].Role() != Follower {
		t.Fatal("StepDown should demote to Follower")
	}
	if managers[0].Term() != term {
		t.Fatal("StepDown must not change the term")
	}
}
