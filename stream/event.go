// Package stream provides a real-time event broker for HashFleet
// lifecycle events. It bridges the ext.Extension system to connected
// clients (dashboard, mobile) via topic-based pub/sub. Cracked
// credentials, node health transitions and leadership changes all flow
// through here as a side channel; job-state correctness never depends
// on delivery.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Membership events.
	EventNodeJoined        EventType = "node.joined"
	EventNodeHealthChanged EventType = "node.health_changed"
	EventNodeDead          EventType = "node.dead"
	EventNodeEvicted       EventType = "node.evicted"

	// Election events.
	EventLeaderChanged  EventType = "leader.changed"
	EventElectionFailed EventType = "election.failed"

	// Scheduling events.
	EventUnitAssigned  EventType = "unit.assigned"
	EventUnitRequeued  EventType = "unit.requeued"
	EventUnitCompleted EventType = "unit.completed"

	// Job events.
	EventJobSubmitted    EventType = "job.submitted"
	EventJobCompleted    EventType = "job.completed"
	EventJobFailed       EventType = "job.failed"
	EventJobCancelled    EventType = "job.cancelled"
	EventPasswordCracked EventType = "password.cracked"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// NodeEventData is the payload for membership lifecycle events.
type NodeEventData struct {
	NodeID   string `json:"node_id"`
	Addr     string `json:"addr,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// LeaderEventData is the payload for election lifecycle events.
type LeaderEventData struct {
	LeaderID string `json:"leader_id,omitempty"`
	Term     uint64 `json:"term"`
}

// UnitEventData is the payload for work-unit lifecycle events.
type UnitEventData struct {
	UnitID     string  `json:"unit_id"`
	JobID      string  `json:"job_id"`
	NodeID     string  `json:"node_id,omitempty"`
	RangeStart uint64  `json:"range_start"`
	RangeEnd   uint64  `json:"range_end"`
	Fraction   float64 `json:"fraction,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID        string `json:"job_id"`
	JobName      string `json:"job_name"`
	HashType     string `json:"hash_type,omitempty"`
	CrackedCount int    `json:"cracked_count,omitempty"`
	ElapsedMs    int64  `json:"elapsed_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CrackedEventData is the payload for password.cracked events. The
// plaintext is deliberately not carried on the stream; clients fetch
// it through the authenticated job API.
type CrackedEventData struct {
	JobID     string `json:"job_id"`
	Hash      string `json:"hash"`
	CrackedBy string `json:"cracked_by"`
}
