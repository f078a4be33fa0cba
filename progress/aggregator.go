// Package progress folds per-unit progress reports into job-level
// state: weighted completion, the cracked-credential set, and a
// best-effort ETA derived from observed throughput.
package progress

import (
	"sync"
	"time"

	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
)

// Report is one node's progress update for a work unit.
type Report struct {
	NodeID   id.NodeID        `json:"node_id"`
	UnitID   id.UnitID        `json:"unit_id"`
	Fraction float64          `json:"fraction"`
	Cracked  []job.Credential `json:"cracked,omitempty"`
	At       time.Time        `json:"at"`
}

// sampleWindow bounds the per-job throughput history.
const sampleWindow = 32

type sample struct {
	at       time.Time
	fraction float64
}

// Aggregator applies reports to work units and tracks per-job
// throughput. Unit and job mutation happens on the caller's structs;
// the aggregator itself only retains the sample history, so it is safe
// to rebuild empty after failover.
type Aggregator struct {
	mu      sync.Mutex
	samples map[string][]sample
	now     func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		samples: make(map[string][]sample),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ApplyUnit folds a report into the unit. The fraction is applied only
// if it does not regress, which makes duplicate and out-of-order
// delivery harmless; cracked credentials are always set-unioned so a
// replayed report never double-counts. Returns whether the fraction
// advanced and the credentials not seen before on this unit.
func (a *Aggregator) ApplyUnit(u *job.WorkUnit, r Report) (advanced bool, fresh []job.Credential) {
	fresh = mergeCredentials(u, r)

	if r.Fraction < u.Fraction {
		return false, fresh
	}
	advanced = r.Fraction > u.Fraction
	u.Fraction = r.Fraction
	if u.State == job.UnitAssigned && r.Fraction > 0 {
		u.State = job.UnitInProgress
	}
	return advanced, fresh
}

// mergeCredentials unions the report's credentials into the unit,
// keyed by hash. Returns only the newly added ones.
func mergeCredentials(u *job.WorkUnit, r Report) []job.Credential {
	if len(r.Cracked) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(u.Cracked))
	for _, c := range u.Cracked {
		seen[c.Hash] = struct{}{}
	}

	var fresh []job.Credential
	for _, c := range r.Cracked {
		if _, dup := seen[c.Hash]; dup {
			continue
		}
		seen[c.Hash] = struct{}{}
		if c.CrackedBy.IsNil() {
			c.CrackedBy = r.NodeID
		}
		if c.CrackedAt.IsZero() {
			c.CrackedAt = r.At
		}
		u.Cracked = append(u.Cracked, c)
		fresh = append(fresh, c)
	}
	return fresh
}

// JobFraction computes the capacity-weighted mean of the units'
// fractions, so a nearly finished tiny unit does not overstate the
// job's overall progress. Done units count as fully complete.
func JobFraction(units []*job.WorkUnit) float64 {
	var total, done float64
	for _, u := range units {
		w := float64(u.Weight())
		total += w
		f := u.Fraction
		if u.State == job.UnitDone {
			f = 1
		}
		done += w * f
	}
	if total == 0 {
		return 0
	}
	return done / total
}

// JobComplete reports whether every unit is Done.
func JobComplete(units []*job.WorkUnit) bool {
	if len(units) == 0 {
		return false
	}
	for _, u := range units {
		if u.State != job.UnitDone {
			return false
		}
	}
	return true
}

// CrackedCount sums the credentials found across all units.
func CrackedCount(units []*job.WorkUnit) int {
	n := 0
	for _, u := range units {
		n += len(u.Cracked)
	}
	return n
}

// Observe records a job-level progress sample for throughput tracking.
// Call it once per aggregation cycle with the job's current fraction.
func (a *Aggregator) Observe(jobID id.JobID, fraction float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := jobID.String()
	hist := append(a.samples[key], sample{at: a.now(), fraction: fraction})
	if len(hist) > sampleWindow {
		hist = hist[len(hist)-sampleWindow:]
	}
	a.samples[key] = hist
}

// ETA estimates the remaining duration for a job from its observed
// throughput over the sample window. It is recomputed from scratch on
// every call, never cached. Returns false when fewer than two samples
// exist or no forward progress has been observed.
func (a *Aggregator) ETA(jobID id.JobID) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.samples[jobID.String()]
	if len(hist) < 2 {
		return 0, false
	}

	first, last := hist[0], hist[len(hist)-1]
	elapsed := last.at.Sub(first.at)
	gained := last.fraction - first.fraction
	if elapsed <= 0 || gained <= 0 {
		return 0, false
	}

	remaining := 1 - last.fraction
	if remaining <= 0 {
		return 0, true
	}
	return time.Duration(remaining / gained * float64(elapsed)), true
}

// Forget drops a job's throughput history once it reaches a terminal
// state.
func (a *Aggregator) Forget(jobID id.JobID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.samples, jobID.String())
}
