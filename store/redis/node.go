package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/membership"
)

// UpsertNode stores or updates a node record.
func (s *Store) UpsertNode(ctx context.Context, n *membership.Node) error {
	nID := n.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, nodeKey(nID), nodeToMap(n))
	pipe.SAdd(ctx, nodeIDsKey, nID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/redis: upsert node: %w", err)
	}
	return nil
}

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*membership.Node, error) {
	vals, err := s.client.HGetAll(ctx, nodeKey(nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: get node: %w", err)
	}
	if len(vals) == 0 {
		return nil, hashfleet.ErrNodeNotFound
	}
	return mapToNode(vals)
}

// ListNodes returns all known nodes ordered by ID.
func (s *Store) ListNodes(ctx context.Context) ([]*membership.Node, error) {
	ids, err := s.client.SMembers(ctx, nodeIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: list nodes smembers: %w", err)
	}

	nodes := make([]*membership.Node, 0, len(ids))
	for _, nID := range ids {
		n, getErr := s.GetNode(ctx, nID)
		if getErr != nil {
			continue // skip missing
		}
		nodes = append(nodes, n)
	}

	sort.Slice(nodes, func(a, b int) bool {
		return nodes[a].ID.String() < nodes[b].ID.String()
	})
	return nodes, nil
}

// DeleteNode removes a node record.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	key := nodeKey(nodeID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hashfleet/redis: delete node exists: %w", err)
	}
	if exists == 0 {
		return hashfleet.ErrNodeNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, nodeIDsKey, nodeID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/redis: delete node: %w", err)
	}
	return nil
}

// ── helpers ──

func nodeToMap(n *membership.Node) map[string]interface{} {
	m := map[string]interface{}{
		"id":            n.ID.String(),
		"addr":          n.Addr,
		"hostname":      n.Hostname,
		"capability":    strconv.Itoa(n.Capability),
		"metrics":       marshalJSON(n.Metrics),
		"last_seen":     n.LastSeen.Format(time.RFC3339Nano),
		"assigned_unit": "",
		"created_at":    n.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":    n.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !n.AssignedUnit.IsNil() {
		m["assigned_unit"] = n.AssignedUnit.String()
	}
	return m
}

func mapToNode(m map[string]string) (*membership.Node, error) {
	nID, err := id.ParseNodeID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: parse node id: %w", err)
	}

	capability, _ := strconv.Atoi(m["capability"])                //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var metrics membership.Metrics
	_ = json.Unmarshal([]byte(m["metrics"]), &metrics) //nolint:errcheck // best-effort parse from trusted Redis data

	n := &membership.Node{
		Entity: hashfleet.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:         nID,
		Addr:       m["addr"],
		Hostname:   m["hostname"],
		Capability: capability,
		Metrics:    metrics,
		LastSeen:   lastSeen,
	}

	if uid := m["assigned_unit"]; uid != "" {
		n.AssignedUnit, _ = id.ParseUnitID(uid) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	return n, nil
}
