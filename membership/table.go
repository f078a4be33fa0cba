package membership

import (
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
)

// Table is the authoritative view of all known nodes. Mutating methods
// are called only from the engine's coordinating goroutine; the internal
// lock exists for concurrent readers (status queries, ListHealthy).
type Table struct {
	mu    sync.RWMutex
	nodes map[string]*Node

	// lastHealth remembers each node's health as of the previous sweep,
	// so Sweep can report transitions rather than absolute states.
	lastHealth map[string]Health

	suspectAfter time.Duration
	deadAfter    time.Duration
	evictAfter   time.Duration

	now func() time.Time
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithClock overrides the table's time source. Test hook.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) { t.now = now }
}

// NewTable creates a membership table with the given health thresholds.
// suspectAfter must be shorter than deadAfter; evictAfter is the audit
// window a Dead node is retained before purging.
func NewTable(suspectAfter, deadAfter, evictAfter time.Duration, opts ...TableOption) *Table {
	t := &Table{
		nodes:        make(map[string]*Node),
		lastHealth:   make(map[string]Health),
		suspectAfter: suspectAfter,
		deadAfter:    deadAfter,
		evictAfter:   evictAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordHeartbeat upserts a node entry and resets its last-seen clock.
// Heartbeats are idempotent and commutative: last-writer-wins on the
// timestamp, and a stale heartbeat (older than the recorded LastSeen)
// is ignored. Returns the node and whether it joined just now.
func (t *Table) RecordHeartbeat(nodeID id.NodeID, addr string, metrics Metrics, at time.Time) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := nodeID.String()
	n, ok := t.nodes[key]
	if !ok {
		n = &Node{
			Entity:   hashfleet.NewEntity(),
			ID:       nodeID,
			Addr:     addr,
			Metrics:  metrics,
			LastSeen: at,
		}
		t.nodes[key] = n
		t.lastHealth[key] = Healthy
		return t.copyNode(n), true
	}

	if at.Before(n.LastSeen) {
		return t.copyNode(n), false
	}

	n.LastSeen = at
	n.Metrics = metrics
	if addr != "" {
		n.Addr = addr
	}
	n.UpdatedAt = t.now()
	return t.copyNode(n), false
}

// Register seeds a node entry with its declared capability and hostname
// before the first heartbeat lands.
func (t *Table) Register(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := n.ID.String()
	if existing, ok := t.nodes[key]; ok {
		existing.Hostname = n.Hostname
		existing.Capability = n.Capability
		if n.Addr != "" {
			existing.Addr = n.Addr
		}
		return
	}
	cp := *n
	if cp.LastSeen.IsZero() {
		cp.LastSeen = t.now()
	}
	t.nodes[key] = &cp
	t.lastHealth[key] = Healthy
}

// HealthOf returns the node's current health, derived purely from the
// elapsed time since its last heartbeat.
func (t *Table) HealthOf(nodeID id.NodeID) (Health, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[nodeID.String()]
	if !ok {
		return "", hashfleet.ErrNodeNotFound
	}
	return n.HealthAt(t.now(), t.suspectAfter, t.deadAfter), nil
}

// Get returns a copy of the node, or ErrNodeNotFound.
func (t *Table) Get(nodeID id.NodeID) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[nodeID.String()]
	if !ok {
		return nil, hashfleet.ErrNodeNotFound
	}
	return t.copyNode(n), nil
}

// ListHealthy produces a lazy, restartable sequence of the IDs of
// currently Healthy nodes, ordered by ID for deterministic iteration.
// The health check is re-evaluated each time the sequence is ranged.
func (t *Table) ListHealthy() iter.Seq[id.NodeID] {
	return func(yield func(id.NodeID) bool) {
		now := t.now()

		t.mu.RLock()
		keys := make([]string, 0, len(t.nodes))
		for k := range t.nodes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		healthy := make([]id.NodeID, 0, len(keys))
		for _, k := range keys {
			n := t.nodes[k]
			if n.HealthAt(now, t.suspectAfter, t.deadAfter) == Healthy {
				healthy = append(healthy, n.ID)
			}
		}
		t.mu.RUnlock()

		for _, nid := range healthy {
			if !yield(nid) {
				return
			}
		}
	}
}

// Snapshot returns copies of all known nodes, ordered by ID.
func (t *Table) Snapshot() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, t.copyNode(n))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return out
}

// Len returns the number of known nodes, including Suspect and Dead ones
// still inside the audit window.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// SetAssignment records that the node holds the given work unit.
// Returns ErrNodeBusy if it already holds a different unit.
func (t *Table) SetAssignment(nodeID id.NodeID, unitID id.UnitID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[nodeID.String()]
	if !ok {
		return hashfleet.ErrNodeNotFound
	}
	if n.HasAssignment() && n.AssignedUnit != unitID {
		return hashfleet.ErrNodeBusy
	}
	n.AssignedUnit = unitID
	n.UpdatedAt = t.now()
	return nil
}

// ClearAssignment releases the node's current assignment, if any.
func (t *Table) ClearAssignment(nodeID id.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.nodes[nodeID.String()]; ok {
		n.AssignedUnit = id.Nil
		n.UpdatedAt = t.now()
	}
}

// Transition describes a health change observed by Sweep.
type Transition struct {
	Node *Node
	From Health
	To   Health
}

// Sweep re-derives every node's health, returning the transitions since
// the previous sweep and evicting Dead nodes whose audit window has
// elapsed. A node holding an assigned work unit is never evicted; the
// scheduler releases the unit on the Dead transition and eviction
// happens on a later sweep.
func (t *Table) Sweep() (transitions []Transition, evicted []*Node) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, n := range t.nodes {
		h := n.HealthAt(now, t.suspectAfter, t.deadAfter)
		if prev := t.lastHealth[key]; prev != h {
			transitions = append(transitions, Transition{Node: t.copyNode(n), From: prev, To: h})
			t.lastHealth[key] = h
		}

		if h == Dead && !n.HasAssignment() && now.Sub(n.LastSeen) >= t.deadAfter+t.evictAfter {
			evicted = append(evicted, t.copyNode(n))
			delete(t.nodes, key)
			delete(t.lastHealth, key)
		}
	}

	sort.Slice(transitions, func(i, k int) bool {
		return transitions[i].Node.ID.String() < transitions[k].Node.ID.String()
	})
	sort.Slice(evicted, func(i, k int) bool {
		return evicted[i].ID.String() < evicted[k].ID.String()
	})
	return transitions, evicted
}

// Remove deletes a node outright (graceful deregistration). Returns
// ErrNodeHoldsUnit if the node still holds an assignment.
func (t *Table) Remove(nodeID id.NodeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := nodeID.String()
	n, ok := t.nodes[key]
	if !ok {
		return hashfleet.ErrNodeNotFound
	}
	if n.HasAssignment() {
		return hashfleet.ErrNodeHoldsUnit
	}
	delete(t.nodes, key)
	delete(t.lastHealth, key)
	return nil
}

// copyNode returns a defensive copy. Callers outside the table must
// never see the live struct.
func (t *Table) copyNode(n *Node) *Node {
	cp := *n
	return &cp
}
