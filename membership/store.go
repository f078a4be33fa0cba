package membership

import "context"

// Store persists node records so the membership table can be rebuilt
// from a snapshot after failover. The in-memory table remains the
// authority at runtime; the store is write-behind.
type Store interface {
	UpsertNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	ListNodes(ctx context.Context) ([]*Node, error)
	DeleteNode(ctx context.Context, nodeID string) error
}
