package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/store"
)

// SaveSnapshot persists a snapshot as a msgpack blob. The latest snapshot
// lives under its own key for O(1) recovery reads; a bounded List keeps
// recent history for debugging.
func (s *Store) SaveSnapshot(ctx context.Context, snap *store.Snapshot) error {
	blob, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("hashfleet/redis: marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotLatestKey, blob, 0)
	pipe.LPush(ctx, snapshotHistoryKey, blob)
	pipe.LTrim(ctx, snapshotHistoryKey, 0, int64(s.snapshotHistory-1))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/redis: save snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot.
func (s *Store) LoadLatestSnapshot(ctx context.Context) (*store.Snapshot, error) {
	blob, err := s.client.Get(ctx, snapshotLatestKey).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, hashfleet.ErrNoSnapshot
		}
		return nil, fmt.Errorf("hashfleet/redis: load snapshot: %w", err)
	}

	var snap store.Snapshot
	if err := msgpack.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("hashfleet/redis: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
