package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/store"
)

// Ensure Store implements the composite interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing, development
// and single-process deployments.
type Store struct {
	mu sync.RWMutex

	jobs  map[string]*job.Job
	units map[string]*job.WorkUnit
	nodes map[string]*membership.Node

	// snapshots is retained newest-last, bounded by snapshotHistory.
	snapshots []*store.Snapshot
}

// snapshotHistory bounds how many snapshots the memory store retains.
const snapshotHistory = 8

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*job.Job),
		units: make(map[string]*job.WorkUnit),
		nodes: make(map[string]*membership.Node),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return hashfleet.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, hashfleet.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return hashfleet.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// ListJobs returns jobs matching the given options, ordered by
// creation time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Work Unit Store
// ──────────────────────────────────────────────────

// CreateUnits persists the work units produced by partitioning a job.
func (m *Store) CreateUnits(_ context.Context, units []*job.WorkUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range units {
		if _, exists := m.units[u.ID.String()]; exists {
			return hashfleet.ErrUnitAlreadyExists
		}
	}
	for _, u := range units {
		cp := *u
		cp.Cracked = append([]job.Credential(nil), u.Cracked...)
		m.units[u.ID.String()] = &cp
	}
	return nil
}

// DeleteUnits removes work units. Unknown IDs are ignored so a retried
// re-partition stays idempotent.
func (m *Store) DeleteUnits(_ context.Context, unitIDs []id.UnitID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, uid := range unitIDs {
		delete(m.units, uid.String())
	}
	return nil
}

// GetUnit retrieves a work unit by ID.
func (m *Store) GetUnit(_ context.Context, unitID id.UnitID) (*job.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[unitID.String()]
	if !ok {
		return nil, hashfleet.ErrUnitNotFound
	}
	return copyUnit(u), nil
}

// UpdateUnit persists changes to an existing work unit.
func (m *Store) UpdateUnit(_ context.Context, u *job.WorkUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := u.ID.String()
	if _, ok := m.units[key]; !ok {
		return hashfleet.ErrUnitNotFound
	}
	cp := copyUnit(u)
	cp.UpdatedAt = time.Now().UTC()
	m.units[key] = cp
	return nil
}

// ListUnitsByJob returns all units of a job ordered by unit index.
func (m *Store) ListUnitsByJob(_ context.Context, jobID id.JobID) ([]*job.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.WorkUnit
	for _, u := range m.units {
		if u.JobID == jobID {
			result = append(result, copyUnit(u))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Index < result[k].Index })
	return result, nil
}

// ListUnitsByState returns all units in the given state, ordered by
// creation time.
func (m *Store) ListUnitsByState(_ context.Context, state job.UnitState) ([]*job.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.WorkUnit
	for _, u := range m.units {
		if u.State == state {
			result = append(result, copyUnit(u))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].Index < result[k].Index
	})
	return result, nil
}

// ListUnitsByNode returns the units currently held by a node.
func (m *Store) ListUnitsByNode(_ context.Context, nodeID id.NodeID) ([]*job.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.WorkUnit
	for _, u := range m.units {
		if u.NodeID == nodeID {
			result = append(result, copyUnit(u))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Index < result[k].Index })
	return result, nil
}

// ──────────────────────────────────────────────────
// Membership Store
// ──────────────────────────────────────────────────

// UpsertNode persists a node record.
func (m *Store) UpsertNode(_ context.Context, n *membership.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	m.nodes[n.ID.String()] = &cp
	return nil
}

// GetNode retrieves a node record by ID string.
func (m *Store) GetNode(_ context.Context, nodeID string) (*membership.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, hashfleet.ErrNodeNotFound
	}
	cp := *n
	return &cp, nil
}

// ListNodes returns all persisted node records.
func (m *Store) ListNodes(_ context.Context) ([]*membership.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*membership.Node
	for _, n := range m.nodes {
		cp := *n
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID.String() < result[k].ID.String() })
	return result, nil
}

// DeleteNode removes a node record.
func (m *Store) DeleteNode(_ context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return hashfleet.ErrNodeNotFound
	}
	delete(m.nodes, nodeID)
	return nil
}

// ──────────────────────────────────────────────────
// Snapshot Store
// ──────────────────────────────────────────────────

// SaveSnapshot appends a snapshot, trimming history beyond the
// retention bound.
func (m *Store) SaveSnapshot(_ context.Context, snap *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	m.snapshots = append(m.snapshots, &cp)
	if len(m.snapshots) > snapshotHistory {
		m.snapshots = m.snapshots[len(m.snapshots)-snapshotHistory:]
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot.
func (m *Store) LoadLatestSnapshot(_ context.Context) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.snapshots) == 0 {
		return nil, hashfleet.ErrNoSnapshot
	}
	cp := *m.snapshots[len(m.snapshots)-1]
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// copyUnit returns a deep copy so callers can mutate without racing
// with the store.
func copyUnit(u *job.WorkUnit) *job.WorkUnit {
	cp := *u
	cp.Cracked = append([]job.Credential(nil), u.Cracked...)
	return &cp
}

// paginate applies offset/limit to an already sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
