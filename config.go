package hashfleet

import "time"

// QuorumMode selects how a candidate legitimizes an election outcome.
type QuorumMode string

const (
	// QuorumMajority requires votes from a majority of known healthy nodes.
	QuorumMajority QuorumMode = "majority"
	// QuorumSingleAck requires a single acknowledgment. Intended for very
	// small trusted clusters (2-3 nodes) where majority voting is overkill.
	// The higher-term-wins invariant still holds.
	QuorumSingleAck QuorumMode = "single-ack"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Addr is the network address this node advertises to peers.
	Addr string

	// HeartbeatInterval is how often this node reports liveness and
	// resource metrics to the leader.
	HeartbeatInterval time.Duration

	// SuspectTimeout is how long without a heartbeat before a node is
	// marked Suspect.
	SuspectTimeout time.Duration

	// DeadTimeout is how long without a heartbeat before a node is
	// marked Dead and its work units are released.
	DeadTimeout time.Duration

	// EvictionGrace is how long a Dead node is retained for audit before
	// it is purged from the membership table.
	EvictionGrace time.Duration

	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized
	// election timeout. Randomization reduces split votes.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// QuorumMode selects majority voting or single-ack election.
	QuorumMode QuorumMode

	// TickInterval is the scheduler cadence on the leader.
	TickInterval time.Duration

	// SnapshotInterval is how often the leader persists a cluster snapshot.
	SnapshotInterval time.Duration

	// StopAckTimeout is how long to wait for a node to acknowledge a stop
	// request before the unit is reassigned anyway.
	StopAckTimeout time.Duration

	// RetryBudget is how many times a work unit may be reassigned before
	// its job transitions to Failed.
	RetryBudget int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for a small
// trusted cluster on a local network.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  2 * time.Second,
		SuspectTimeout:     6 * time.Second,
		DeadTimeout:        15 * time.Second,
		EvictionGrace:      5 * time.Minute,
		ElectionTimeoutMin: 5 * time.Second,
		ElectionTimeoutMax: 10 * time.Second,
		QuorumMode:         QuorumMajority,
		TickInterval:       1 * time.Second,
		SnapshotInterval:   30 * time.Second,
		StopAckTimeout:     5 * time.Second,
		RetryBudget:        3,
		ShutdownTimeout:    30 * time.Second,
	}
}
