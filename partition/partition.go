// Package partition splits a job's candidate search space into
// contiguous, non-overlapping, exhaustive work-unit ranges.
//
// Plans are deterministic: the same total space and part count always
// produce identical boundaries for each unit index, so a retried
// partitioning after a crash yields the same units it did before.
package partition

import (
	"fmt"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
)

// Plan computes the sub-range boundaries for splitting total candidate
// space across parts units. The first (total mod parts) units get one
// extra candidate so the ranges exhaust the space exactly. A non-empty
// space always yields at least one range; parts is clamped to [1, total].
func Plan(total uint64, parts int) []job.Range {
	if total == 0 {
		return nil
	}
	n := uint64(parts)
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}

	base := total / n
	rem := total % n

	ranges := make([]job.Range, 0, n)
	var cursor uint64
	for i := uint64(0); i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		ranges = append(ranges, job.Range{Start: cursor, End: cursor + size})
		cursor += size
	}
	return ranges
}

// Split materializes work units for a job, one per planned range.
// Unit indexes are assigned in range order starting at zero.
func Split(j *job.Job, nodeCount int) ([]*job.WorkUnit, error) {
	if j.TotalSpace == 0 {
		return nil, fmt.Errorf("partition job %s: empty candidate space", j.ID)
	}

	ranges := Plan(j.TotalSpace, nodeCount)
	units := make([]*job.WorkUnit, 0, len(ranges))
	for i, r := range ranges {
		units = append(units, &job.WorkUnit{
			ID:    id.NewUnitID(),
			JobID: j.ID,
			Index: i,
			Range: r,
			State: job.UnitUnassigned,
		})
	}
	return units, nil
}

// Rebalance re-plans the undistributed tail of a job's units for a new
// node count. Only the contiguous Unassigned suffix is re-split: a unit
// that has been handed to a node, even if that node has not reported
// yet, already has exactly one instructed holder and keeps its
// boundaries. Returns the replacement units for the suffix, or nil if
// nothing can be rebalanced.
func Rebalance(j *job.Job, units []*job.WorkUnit, nodeCount int) []*job.WorkUnit {
	tail := len(units)
	for i := len(units) - 1; i >= 0; i-- {
		if units[i].State != job.UnitUnassigned {
			break
		}
		tail = i
	}
	if tail >= len(units) {
		return nil
	}

	start := units[tail].Range.Start
	end := units[len(units)-1].Range.End
	space := end - start
	if space == 0 {
		return nil
	}

	ranges := Plan(space, nodeCount)

	// Skip the churn when the plan reproduces the existing boundaries.
	if len(ranges) == len(units)-tail {
		same := true
		for i, r := range ranges {
			u := units[tail+i]
			if u.Range.Start != start+r.Start || u.Range.End != start+r.End {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}

	out := make([]*job.WorkUnit, 0, len(ranges))
	for i, r := range ranges {
		out = append(out, &job.WorkUnit{
			ID:    id.NewUnitID(),
			JobID: j.ID,
			Index: units[tail].Index + i,
			Range: job.Range{Start: start + r.Start, End: start + r.End},
			State: job.UnitUnassigned,
		})
	}
	return out
}
