package election

import (
	"context"

	"github.com/hashfleet/hashfleet/id"
)

// VoteRequest asks a peer to support the candidate's claim on a term.
type VoteRequest struct {
	Term      uint64    `json:"term"`
	Candidate id.NodeID `json:"candidate"`
}

// VoteResponse carries the peer's decision and its current term, so a
// stale candidate learns it is behind.
type VoteResponse struct {
	Term    uint64 `json:"term"`
	Granted bool   `json:"granted"`
}

// Announcement is a leader's periodic claim over the cluster.
type Announcement struct {
	Term   uint64    `json:"term"`
	Leader id.NodeID `json:"leader"`
}

// Transport delivers election traffic to a single peer. Implementations
// must honor the context deadline; the Manager bounds every call.
type Transport interface {
	RequestVote(ctx context.Context, target id.NodeID, req VoteRequest) (VoteResponse, error)
	Announce(ctx context.Context, target id.NodeID, ann Announcement) error
}
