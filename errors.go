package hashfleet

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("hashfleet: no store configured")
	ErrStoreClosed     = errors.New("hashfleet: store closed")
	ErrMigrationFailed = errors.New("hashfleet: migration failed")
	ErrNoSnapshot      = errors.New("hashfleet: no snapshot available")

	// Not found errors.
	ErrJobNotFound  = errors.New("hashfleet: job not found")
	ErrUnitNotFound = errors.New("hashfleet: work unit not found")
	ErrNodeNotFound = errors.New("hashfleet: node not found")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("hashfleet: job already exists")
	ErrUnitAlreadyExists = errors.New("hashfleet: work unit already exists")
	ErrUnitAlreadyHeld   = errors.New("hashfleet: work unit already assigned")
	ErrNodeBusy          = errors.New("hashfleet: node already holds an assignment")
	ErrNodeHoldsUnit     = errors.New("hashfleet: node still holds an assigned work unit")

	// State errors.
	ErrInvalidState         = errors.New("hashfleet: invalid state transition")
	ErrJobTerminal          = errors.New("hashfleet: job already in a terminal state")
	ErrRetryBudgetExhausted = errors.New("hashfleet: work unit retry budget exhausted")

	// Cluster errors.
	ErrNotLeader      = errors.New("hashfleet: not the leader")
	ErrNoLeader       = errors.New("hashfleet: cluster has no leader")
	ErrNoQuorum       = errors.New("hashfleet: no quorum reachable")
	ErrStaleTerm      = errors.New("hashfleet: term is stale")
	ErrReconciling    = errors.New("hashfleet: leader reconciliation in progress")
	ErrLeadershipLost = errors.New("hashfleet: leadership lost")
)
