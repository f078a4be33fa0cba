package partition

import (
	"reflect"
	"testing"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
)

func TestPlanEvenSplit(t *testing.T) {
	got := Plan(300, 3)
	want := []job.Range{{Start: 0, End: 100}, {Start: 100, End: 200}, {Start: 200, End: 300}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan(300, 3) = %+v, want %+v", got, want)
	}
}

func TestPlanRemainderDistribution(t *testing.T) {
	got := Plan(10, 3)
	want := []job.Range{{Start: 0, End: 4}, {Start: 4, End: 7}, {Start: 7, End: 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Plan(10, 3) = %+v, want %+v", got, want)
	}
}

func TestPlanClampsParts(t *testing.T) {
	if got := Plan(5, 0); len(got) != 1 {
		t.Fatalf("Plan(5, 0) produced %d ranges, want 1", len(got))
	}
	if got := Plan(3, 10); len(got) != 3 {
		t.Fatalf("Plan(3, 10) produced %d ranges, want 3 one-candidate ranges", len(got))
	}
	if got := Plan(0, 4); got != nil {
		t.Fatalf("Plan(0, 4) = %+v, want nil", got)
	}
}

// Ranges must be contiguous, non-overlapping, and exhaust the space:
// the unit weights always sum to the total.
func TestPlanExhaustive(t *testing.T) {
	cases := []struct {
		total uint64
		parts int
	}{
		{1, 1}, {7, 2}, {100, 7}, {1 << 20, 13}, {999999, 1000},
	}
	for _, tc := range cases {
		ranges := Plan(tc.total, tc.parts)
		var sum uint64
		var cursor uint64
		for i, r := range ranges {
			if r.Start != cursor {
				t.Fatalf("Plan(%d, %d): range %d starts at %d, want %d", tc.total, tc.parts, i, r.Start, cursor)
			}
			if r.End <= r.Start {
				t.Fatalf("Plan(%d, %d): range %d is empty", tc.total, tc.parts, i)
			}
			sum += r.Size()
			cursor = r.End
		}
		if sum != tc.total {
			t.Fatalf("Plan(%d, %d): weights sum to %d", tc.total, tc.parts, sum)
		}
	}
}

func TestPlanDeterministic(t *testing.T) {
	a := Plan(12345, 7)
	b := Plan(12345, 7)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("repeated Plan calls disagree")
	}
}

func TestSplit(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 300}
	units, err := Split(j, 3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	for i, u := range units {
		if u.Index != i {
			t.Fatalf("unit %d has index %d", i, u.Index)
		}
		if u.JobID != j.ID {
			t.Fatalf("unit %d bound to wrong job", i)
		}
		if u.State != job.UnitUnassigned {
			t.Fatalf("unit %d state = %v, want unassigned", i, u.State)
		}
		if u.Weight() != 100 {
			t.Fatalf("unit %d weight = %d, want 100", i, u.Weight())
		}
	}
}

func TestSplitEmptySpace(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 0}
	if _, err := Split(j, 3); err == nil {
		t.Fatal("Split of empty space should fail")
	}
}

func TestRebalanceKeepsStartedUnits(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 400}
	units, _ := Split(j, 4)

	units[0].State = job.UnitDone
	units[1].State = job.UnitInProgress

	replacement := Rebalance(j, units, 3)
	if len(replacement) != 3 {
		t.Fatalf("replacement units = %d, want 3", len(replacement))
	}
	if replacement[0].Range.Start != units[2].Range.Start {
		t.Fatalf("rebalanced tail starts at %d, want %d", replacement[0].Range.Start, units[2].Range.Start)
	}
	if replacement[len(replacement)-1].Range.End != 400 {
		t.Fatal("rebalanced tail does not reach the end of the space")
	}
	if replacement[0].Index != units[2].Index {
		t.Fatalf("rebalanced indexes start at %d, want %d", replacement[0].Index, units[2].Index)
	}
}

// A unit handed to a node keeps its boundaries even before the node
// reports progress: re-splitting it would put two nodes on one range.
func TestRebalanceKeepsAssignedUnits(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 300}
	units, _ := Split(j, 3)

	units[0].State = job.UnitDone
	units[1].State = job.UnitAssigned

	replacement := Rebalance(j, units, 4)
	if len(replacement) == 0 {
		t.Fatal("unassigned tail should rebalance")
	}
	if replacement[0].Range.Start != units[2].Range.Start {
		t.Fatalf("rebalanced tail starts at %d, want %d (assigned unit re-split)",
			replacement[0].Range.Start, units[2].Range.Start)
	}
}

func TestRebalanceNothingToDo(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 100}
	units, _ := Split(j, 2)
	for _, u := range units {
		u.State = job.UnitInProgress
	}
	if got := Rebalance(j, units, 4); got != nil {
		t.Fatalf("Rebalance of fully started job = %+v, want nil", got)
	}
}

func TestRebalanceSamePlanIsNoop(t *testing.T) {
	j := &job.Job{ID: id.NewJobID(), TotalSpace: 400}
	units, _ := Split(j, 4)
	units[0].State = job.UnitDone
	units[1].State = job.UnitInProgress

	// Plan(200, 2) reproduces the existing two 100-wide units; no churn.
	if got := Rebalance(j, units, 2); got != nil {
		t.Fatalf("Rebalance reproducing existing boundaries = %+v, want nil", got)
	}
}
