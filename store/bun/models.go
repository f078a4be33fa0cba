package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:hashfleet_jobs"`

	ID           string     `bun:"id,pk"`
	Name         string     `bun:"name,notnull"`
	HashType     string     `bun:"hash_type,notnull"`
	Hashes       []string   `bun:"hashes,array"`
	Attack       job.Attack `bun:"attack,type:jsonb"`
	Priority     int        `bun:"priority,notnull,default:5"`
	State        string     `bun:"state,notnull,default:'pending'"`
	TotalSpace   int64      `bun:"total_space,notnull,default:0"`
	CrackedCount int        `bun:"cracked_count,notnull,default:0"`
	FailReason   string     `bun:"fail_reason"`
	StartedAt    *time.Time `bun:"started_at"`
	CompletedAt  *time.Time `bun:"completed_at"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:           j.ID.String(),
		Name:         j.Name,
		HashType:     j.HashType,
		Hashes:       j.Hashes,
		Attack:       j.Attack,
		Priority:     j.Priority,
		State:        string(j.State),
		TotalSpace:   int64(j.TotalSpace), //nolint:gosec // candidate spaces stay far below int64 range
		CrackedCount: j.CrackedCount,
		FailReason:   j.FailReason,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: hashfleet.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           parsedID,
		Name:         m.Name,
		HashType:     m.HashType,
		Hashes:       m.Hashes,
		Attack:       m.Attack,
		Priority:     m.Priority,
		State:        job.State(m.State),
		TotalSpace:   uint64(m.TotalSpace), //nolint:gosec // stored non-negative
		CrackedCount: m.CrackedCount,
		FailReason:   m.FailReason,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
	}, nil
}

// ── Work unit model ───────────────────────────────────────────────

type unitModel struct {
	bun.BaseModel `bun:"table:hashfleet_units"`

	ID          string           `bun:"id,pk"`
	JobID       string           `bun:"job_id,notnull"`
	Index       int              `bun:"unit_index,notnull"`
	RangeStart  int64            `bun:"range_start,notnull"`
	RangeEnd    int64            `bun:"range_end,notnull"`
	State       string           `bun:"state,notnull,default:'unassigned'"`
	NodeID      string           `bun:"node_id"`
	Fraction    float64          `bun:"fraction,notnull,default:0"`
	Cracked     []job.Credential `bun:"cracked,type:jsonb"`
	Attempts    int              `bun:"attempts,notnull,default:0"`
	AssignedAt  *time.Time       `bun:"assigned_at"`
	CompletedAt *time.Time       `bun:"completed_at"`
	CreatedAt   time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
}

func toUnitModel(u *job.WorkUnit) *unitModel {
	m := &unitModel{
		ID:          u.ID.String(),
		JobID:       u.JobID.String(),
		Index:       u.Index,
		RangeStart:  int64(u.Range.Start), //nolint:gosec // candidate spaces stay far below int64 range
		RangeEnd:    int64(u.Range.End),   //nolint:gosec // candidate spaces stay far below int64 range
		State:       string(u.State),
		Fraction:    u.Fraction,
		Cracked:     u.Cracked,
		Attempts:    u.Attempts,
		AssignedAt:  u.AssignedAt,
		CompletedAt: u.CompletedAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if !u.NodeID.IsNil() {
		m.NodeID = u.NodeID.String()
	}
	return m
}

func fromUnitModel(m *unitModel) (*job.WorkUnit, error) {
	parsedID, err := id.ParseUnitID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: parse unit id %q: %w", m.ID, err)
	}

	parsedJobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: parse job id %q: %w", m.JobID, err)
	}

	u := &job.WorkUnit{
		Entity: hashfleet.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		JobID:       parsedJobID,
		Index:       m.Index,
		Range:       job.Range{Start: uint64(m.RangeStart), End: uint64(m.RangeEnd)}, //nolint:gosec // stored non-negative
		State:       job.UnitState(m.State),
		Fraction:    m.Fraction,
		Cracked:     m.Cracked,
		Attempts:    m.Attempts,
		AssignedAt:  m.AssignedAt,
		CompletedAt: m.CompletedAt,
	}

	if m.NodeID != "" {
		parsedNode, nErr := id.ParseNodeID(m.NodeID)
		if nErr == nil {
			u.NodeID = parsedNode
		}
	}

	return u, nil
}

// ── Node model ────────────────────────────────────────────────────

type nodeModel struct {
	bun.BaseModel `bun:"table:hashfleet_nodes"`

	ID           string             `bun:"id,pk"`
	Addr         string             `bun:"addr,notnull"`
	Hostname     string             `bun:"hostname"`
	Capability   int                `bun:"capability,notnull,default:0"`
	Metrics      membership.Metrics `bun:"metrics,type:jsonb"`
	LastSeen     time.Time          `bun:"last_seen,notnull,default:current_timestamp"`
	AssignedUnit string             `bun:"assigned_unit"`
	CreatedAt    time.Time          `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time          `bun:"updated_at,notnull,default:current_timestamp"`
}

func toNodeModel(n *membership.Node) *nodeModel {
	m := &nodeModel{
		ID:         n.ID.String(),
		Addr:       n.Addr,
		Hostname:   n.Hostname,
		Capability: n.Capability,
		Metrics:    n.Metrics,
		LastSeen:   n.LastSeen,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
	if !n.AssignedUnit.IsNil() {
		m.AssignedUnit = n.AssignedUnit.String()
	}
	return m
}

func fromNodeModel(m *nodeModel) (*membership.Node, error) {
	parsedID, err := id.ParseNodeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: parse node id %q: %w", m.ID, err)
	}

	n := &membership.Node{
		Entity: hashfleet.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         parsedID,
		Addr:       m.Addr,
		Hostname:   m.Hostname,
		Capability: m.Capability,
		Metrics:    m.Metrics,
		LastSeen:   m.LastSeen,
	}

	if m.AssignedUnit != "" {
		parsedUnit, uErr := id.ParseUnitID(m.AssignedUnit)
		if uErr == nil {
			n.AssignedUnit = parsedUnit
		}
	}

	return n, nil
}

// ── Snapshot model ────────────────────────────────────────────────

// snapshotModel stores each snapshot as an opaque msgpack blob. The
// envelope columns carry enough metadata to pick the latest without
// decoding.
type snapshotModel struct {
	bun.BaseModel `bun:"table:hashfleet_snapshots"`

	ID      string    `bun:"id,pk"`
	Term    int64     `bun:"term,notnull"`
	Leader  string    `bun:"leader,notnull"`
	TakenAt time.Time `bun:"taken_at,notnull"`
	Data    []byte    `bun:"data,notnull,type:bytea"`
}
