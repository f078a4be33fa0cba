package store

import (
	"context"
	"time"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
)

// Snapshot is a point-in-time capture of the leader's authoritative
// state, written on a fixed cadence and read back by a new leader
// during failover reconciliation.
type Snapshot struct {
	ID      id.EventID `json:"id"`
	Term    uint64     `json:"term"`
	Leader  id.NodeID  `json:"leader"`
	TakenAt time.Time  `json:"taken_at"`

	Nodes []*membership.Node `json:"nodes"`
	Jobs  []*job.Job         `json:"jobs"`
	Units []*job.WorkUnit    `json:"units"`
}

// SnapshotStore persists state snapshots for crash recovery.
type SnapshotStore interface {
	// SaveSnapshot persists a snapshot. Implementations may retain only
	// a bounded history; the latest snapshot must always survive.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadLatestSnapshot returns the most recent snapshot, or
	// hashfleet.ErrNoSnapshot if none has been taken yet.
	LoadLatestSnapshot(ctx context.Context) (*Snapshot, error)
}

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (memory, redis, bun) implements all of them.
type Store interface {
	job.Store
	membership.Store
	SnapshotStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
