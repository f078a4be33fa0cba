package bunstore

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/store"
)

// SaveSnapshot persists a snapshot as a msgpack blob and trims history
// beyond the retention bound.
func (s *Store) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: marshal snapshot: %w", err)
	}

	m := &snapshotModel{
		ID:      snap.ID.String(),
		Term:    int64(snap.Term), //nolint:gosec // terms stay far below int64 range
		Leader:  snap.Leader.String(),
		TakenAt: snap.TakenAt,
		Data:    blob,
	}

	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("hashfleet/bun: save snapshot: %w", err)
	}

	// Trim old snapshots past the retention bound.
	_, err = s.db.NewDelete().
		Model((*snapshotModel)(nil)).
		Where("id NOT IN (SELECT id FROM hashfleet_snapshots ORDER BY taken_at DESC LIMIT ?)", s.snapshotHistory).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: trim snapshots: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot.
func (s *Store) LoadLatestSnapshot(ctx context.Context) (*store.Snapshot, error) {
	m := new(snapshotModel)
	err := s.db.NewSelect().Model(m).
		OrderExpr("taken_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hashfleet.ErrNoSnapshot
		}
		return nil, fmt.Errorf("hashfleet/bun: load snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := msgpack.Unmarshal(m.Data, &snap); err != nil {
		return nil, fmt.Errorf("hashfleet/bun: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
