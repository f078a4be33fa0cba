package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/membership"
)

// UpsertNode stores or updates a node record.
func (s *Store) UpsertNode(ctx context.Context, n *membership.Node) error {
	m := toNodeModel(n)
	m.UpdatedAt = time.Now().UTC()

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("addr = EXCLUDED.addr").
		Set("hostname = EXCLUDED.hostname").
		Set("capability = EXCLUDED.capability").
		Set("metrics = EXCLUDED.metrics").
		Set("last_seen = EXCLUDED.last_seen").
		Set("assigned_unit = EXCLUDED.assigned_unit").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: upsert node: %w", err)
	}
	return nil
}

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID string) (*membership.Node, error) {
	m := new(nodeModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", nodeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hashfleet.ErrNodeNotFound
		}
		return nil, fmt.Errorf("hashfleet/bun: get node: %w", err)
	}
	return fromNodeModel(m)
}

// ListNodes returns all known nodes ordered by ID.
func (s *Store) ListNodes(ctx context.Context) ([]*membership.Node, error) {
	var models []nodeModel
	err := s.db.NewSelect().Model(&models).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: list nodes: %w", err)
	}

	nodes := make([]*membership.Node, 0, len(models))
	for i := range models {
		n, convErr := fromNodeModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hashfleet/bun: convert node: %w", convErr)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// DeleteNode removes a node record.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	res, err := s.db.NewDelete().
		Model((*nodeModel)(nil)).
		Where("id = ?", nodeID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: delete node: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hashfleet.ErrNodeNotFound
	}
	return nil
}
