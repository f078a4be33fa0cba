package job

import (
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is partitioned and waiting for its first
	// unit assignment.
	StatePending State = "pending"
	// StateRunning means at least one work unit has been assigned.
	StateRunning State = "running"
	// StateCompleted means every work unit finished its range.
	StateCompleted State = "completed"
	// StateFailed means a work unit exhausted its retry budget.
	StateFailed State = "failed"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final. Terminal jobs are never
// mutated again; their units are retained as history.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// UnitState represents the lifecycle state of a work unit.
type UnitState string

const (
	// UnitUnassigned means the unit is waiting for a node.
	UnitUnassigned UnitState = "unassigned"
	// UnitAssigned means a node has been instructed to work the unit but
	// has not reported progress yet.
	UnitAssigned UnitState = "assigned"
	// UnitInProgress means the assigned node has reported progress.
	UnitInProgress UnitState = "in_progress"
	// UnitDone means the unit's full range has been searched.
	UnitDone UnitState = "done"
	// UnitFailed means the unit was abandoned (job cancelled or retry
	// budget exhausted).
	UnitFailed UnitState = "failed"
)

// Terminal reports whether the unit state is final.
func (s UnitState) Terminal() bool {
	return s == UnitDone || s == UnitFailed
}

// Active reports whether the unit is currently held by a node.
func (s UnitState) Active() bool {
	return s == UnitAssigned || s == UnitInProgress
}

// AttackMode identifies the cracking strategy. Opaque to the core; it is
// forwarded to the node's cracking tool together with the other attack
// parameters.
type AttackMode string

const (
	AttackDictionary AttackMode = "dictionary"
	AttackBruteforce AttackMode = "bruteforce"
	AttackHybrid     AttackMode = "hybrid"
)

// Attack bundles the tool invocation parameters for a job. The engine
// never interprets these beyond forwarding them in assignments.
type Attack struct {
	Mode     AttackMode        `json:"mode"`
	Wordlist string            `json:"wordlist,omitempty"`
	Rules    string            `json:"rules,omitempty"`
	Mask     string            `json:"mask,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Job represents a credential-recovery job over a target hash set.
type Job struct {
	hashfleet.Entity

	ID       id.JobID `json:"id"`
	Name     string   `json:"name"`
	HashType string   `json:"hash_type"`
	Hashes   []string `json:"hashes"`
	Attack   Attack   `json:"attack"`
	Priority int      `json:"priority"`
	State    State    `json:"state"`

	// TotalSpace is the size of the candidate search space. The sum of
	// all unit range sizes always equals this value.
	TotalSpace uint64 `json:"total_space"`

	CrackedCount int    `json:"cracked_count"`
	FailReason   string `json:"fail_reason,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Range is a contiguous half-open sub-range [Start, End) of a job's
// candidate space.
type Range struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Size returns the number of candidates in the range.
func (r Range) Size() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether the candidate offset falls inside the range.
func (r Range) Contains(offset uint64) bool {
	return offset >= r.Start && offset < r.End
}

// Credential is a recovered hash/plaintext pair, tagged with the node
// that found it.
type Credential struct {
	Hash      string    `json:"hash"`
	Plain     string    `json:"plain"`
	CrackedBy id.NodeID `json:"cracked_by"`
	CrackedAt time.Time `json:"cracked_at"`
}

// WorkUnit is an independent slice of a job's candidate space. At most
// one node holds an Assigned or InProgress unit at a time; a unit
// orphaned by node death returns to Unassigned and is reassigned, never
// dropped.
type WorkUnit struct {
	hashfleet.Entity

	ID    id.UnitID `json:"id"`
	JobID id.JobID  `json:"job_id"`

	// Index is the unit's position in the job's deterministic partition
	// order. Same job and index always describe the same range.
	Index int   `json:"index"`
	Range Range `json:"range"`

	State  UnitState `json:"state"`
	NodeID id.NodeID `json:"node_id,omitempty"`

	// Fraction is the last reported progress in [0, 1]. It never
	// decreases while the unit stays with one node, and resets to zero
	// on reassignment (restart-from-range-start).
	Fraction float64 `json:"fraction"`

	Cracked []Credential `json:"cracked,omitempty"`

	// Attempts counts how many times the unit has been assigned.
	Attempts int `json:"attempts"`

	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Weight returns the unit's share of the job's candidate space, used for
// capacity-weighted progress aggregation.
func (u *WorkUnit) Weight() uint64 { return u.Range.Size() }

// Release clears the unit's assignment and returns it to the pool.
// Partial progress is discarded: the external cracking tool reports no
// resumable state, so a reassigned unit restarts from its range start.
func (u *WorkUnit) Release() {
	u.State = UnitUnassigned
	u.NodeID = id.Nil
	u.Fraction = 0
	u.AssignedAt = nil
}
