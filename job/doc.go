// Package job defines the cracking job and work unit entities and their
// persistence contract.
//
// A Job carries a target hash set and opaque attack parameters. The
// partitioner splits its candidate space into WorkUnits — contiguous,
// non-overlapping sub-ranges sized for one node. Units are never deleted
// and recreated during a job's life: reassignment only clears and re-sets
// the unit's node reference, so history and audit stay trivial.
//
// Jobs are mutated only by the cluster leader. Terminal jobs keep their
// full unit list as immutable history.
package job
