package membership

import (
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
)

// Health represents the derived liveness state of a node.
type Health string

const (
	// Healthy means the node heartbeated within the suspect timeout.
	Healthy Health = "healthy"
	// Suspect means the node has been silent longer than the suspect
	// timeout but may still come back.
	Suspect Health = "suspect"
	// Dead means the node has been silent longer than the dead timeout
	// and its work units are eligible for reassignment.
	Dead Health = "dead"
)

// Metrics carries the resource usage a node reports with each heartbeat.
// The scheduler prefers less loaded nodes when metrics are available.
type Metrics struct {
	CPU       float64 `json:"cpu"`
	Mem       float64 `json:"mem"`
	Disk      float64 `json:"disk"`
	LatencyMS float64 `json:"latency_ms"`
}

// Load collapses the metrics into a single comparable score.
// CPU dominates; memory breaks ties.
func (m Metrics) Load() float64 {
	return m.CPU + m.Mem/10
}

// Node represents a worker node in the fleet. It is created on first
// heartbeat and owned by the membership table.
type Node struct {
	hashfleet.Entity

	ID       id.NodeID `json:"id"`
	Addr     string    `json:"addr"`
	Hostname string    `json:"hostname,omitempty"`

	// Capability is a compute capacity hint (e.g. core count) declared
	// by the node on registration.
	Capability int `json:"capability,omitempty"`

	Metrics  Metrics   `json:"metrics"`
	LastSeen time.Time `json:"last_seen"`

	// AssignedUnit references the work unit the node currently holds,
	// or Nil. A node holds at most one unit at a time.
	AssignedUnit id.UnitID `json:"assigned_unit,omitempty"`
}

// HealthAt derives the node's health from elapsed time since its last
// heartbeat. It is a pure function of now, LastSeen, and the thresholds.
func (n *Node) HealthAt(now time.Time, suspectAfter, deadAfter time.Duration) Health {
	silent := now.Sub(n.LastSeen)
	switch {
	case silent >= deadAfter:
		return Dead
	case silent >= suspectAfter:
		return Suspect
	default:
		return Healthy
	}
}

// HasAssignment reports whether the node currently holds a work unit.
func (n *Node) HasAssignment() bool { return !n.AssignedUnit.IsNil() }
