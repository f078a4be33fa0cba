package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
)

// CreateUnits persists the work units produced by partitioning a job.
func (s *Store) CreateUnits(ctx context.Context, units []*job.WorkUnit) error {
	if len(units) == 0 {
		return nil
	}

	// Check for duplicates before writing anything.
	for _, u := range units {
		exists, err := s.client.Exists(ctx, unitKey(u.ID.String())).Result()
		if err != nil {
			return fmt.Errorf("hashfleet/redis: create units check exists: %w", err)
		}
		if exists > 0 {
			return hashfleet.ErrUnitAlreadyExists
		}
	}

	pipe := s.client.TxPipeline()
	for _, u := range units {
		uID := u.ID.String()
		pipe.HSet(ctx, unitKey(uID), unitToMap(u))
		pipe.SAdd(ctx, unitIDsKey, uID)
		pipe.SAdd(ctx, jobUnitsKey(u.JobID.String()), uID)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/redis: create units: %w", err)
	}
	return nil
}

// DeleteUnits removes work units and their index entries. Unknown IDs
// are ignored.
func (s *Store) DeleteUnits(ctx context.Context, unitIDs []id.UnitID) error {
	if len(unitIDs) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, uid := range unitIDs {
		uID := uid.String()
		u, getErr := s.getUnitByKey(ctx, unitKey(uID))
		if getErr == nil {
			pipe.SRem(ctx, jobUnitsKey(u.JobID.String()), uID)
		}
		pipe.Del(ctx, unitKey(uID))
		pipe.SRem(ctx, unitIDsKey, uID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hashfleet/redis: delete units: %w", err)
	}
	return nil
}

// GetUnit retrieves a work unit by ID.
func (s *Store) GetUnit(ctx context.Context, unitID id.UnitID) (*job.WorkUnit, error) {
	return s.getUnitByKey(ctx, unitKey(unitID.String()))
}

// UpdateUnit persists changes to an existing work unit.
func (s *Store) UpdateUnit(ctx context.Context, u *job.WorkUnit) error {
	uID := u.ID.String()
	key := unitKey(uID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hashfleet/redis: update unit exists: %w", err)
	}
	if exists == 0 {
		return hashfleet.ErrUnitNotFound
	}

	fields := unitToMap(u)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	// node_id may transition back to empty on release; HSet keeps stale
	// fields, so write the cleared value explicitly.
	_, err = s.client.HSet(ctx, key, fields).Result()
	if err != nil {
		return fmt.Errorf("hashfleet/redis: update unit: %w", err)
	}
	return nil
}

// ListUnitsByJob returns all units of a job ordered by unit index.
func (s *Store) ListUnitsByJob(ctx context.Context, jobID id.JobID) ([]*job.WorkUnit, error) {
	ids, err := s.client.SMembers(ctx, jobUnitsKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: list units smembers: %w", err)
	}

	units := make([]*job.WorkUnit, 0, len(ids))
	for _, uID := range ids {
		u, getErr := s.getUnitByKey(ctx, unitKey(uID))
		if getErr != nil {
			continue // skip missing
		}
		units = append(units, u)
	}

	sort.Slice(units, func(a, b int) bool { return units[a].Index < units[b].Index })
	return units, nil
}

// ListUnitsByState returns all units in the given state across jobs,
// ordered by creation time.
func (s *Store) ListUnitsByState(ctx context.Context, state job.UnitState) ([]*job.WorkUnit, error) {
	ids, err := s.client.SMembers(ctx, unitIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: list units by state smembers: %w", err)
	}

	var units []*job.WorkUnit
	for _, uID := range ids {
		u, getErr := s.getUnitByKey(ctx, unitKey(uID))
		if getErr != nil {
			continue
		}
		if u.State != state {
			continue
		}
		units = append(units, u)
	}

	sort.Slice(units, func(a, b int) bool {
		if units[a].CreatedAt.Equal(units[b].CreatedAt) {
			return units[a].Index < units[b].Index
		}
		return units[a].CreatedAt.Before(units[b].CreatedAt)
	})
	return units, nil
}

// ListUnitsByNode returns the units currently held by a node.
func (s *Store) ListUnitsByNode(ctx context.Context, nodeID id.NodeID) ([]*job.WorkUnit, error) {
	ids, err := s.client.SMembers(ctx, unitIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: list units by node smembers: %w", err)
	}

	var units []*job.WorkUnit
	for _, uID := range ids {
		u, getErr := s.getUnitByKey(ctx, unitKey(uID))
		if getErr != nil {
			continue
		}
		if u.NodeID != nodeID {
			continue
		}
		units = append(units, u)
	}

	sort.Slice(units, func(a, b int) bool { return units[a].Index < units[b].Index })
	return units, nil
}

// ── helpers ──

func unitToMap(u *job.WorkUnit) map[string]interface{} {
	m := map[string]interface{}{
		"id":          u.ID.String(),
		"job_id":      u.JobID.String(),
		"index":       strconv.Itoa(u.Index),
		"range_start": strconv.FormatUint(u.Range.Start, 10),
		"range_end":   strconv.FormatUint(u.Range.End, 10),
		"state":       string(u.State),
		"node_id":     "",
		"fraction":    strconv.FormatFloat(u.Fraction, 'g', -1, 64),
		"cracked":     marshalJSON(u.Cracked),
		"attempts":    strconv.Itoa(u.Attempts),
		"created_at":  u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  u.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !u.NodeID.IsNil() {
		m["node_id"] = u.NodeID.String()
	}
	if u.AssignedAt != nil {
		m["assigned_at"] = u.AssignedAt.Format(time.RFC3339Nano)
	} else {
		m["assigned_at"] = ""
	}
	if u.CompletedAt != nil {
		m["completed_at"] = u.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getUnitByKey(ctx context.Context, key string) (*job.WorkUnit, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: get unit: %w", err)
	}
	if len(vals) == 0 {
		return nil, hashfleet.ErrUnitNotFound
	}
	return mapToUnit(vals)
}

func mapToUnit(m map[string]string) (*job.WorkUnit, error) {
	uID, err := id.ParseUnitID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: parse unit id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("hashfleet/redis: parse unit job id: %w", err)
	}

	index, _ := strconv.Atoi(m["index"])                          //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	start, _ := strconv.ParseUint(m["range_start"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	end, _ := strconv.ParseUint(m["range_end"], 10, 64)           //nolint:errcheck // best-effort parse from trusted Redis data
	fraction, _ := strconv.ParseFloat(m["fraction"], 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var cracked []job.Credential
	if v := m["cracked"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &cracked) //nolint:errcheck // best-effort parse from trusted Redis data
	}

	u := &job.WorkUnit{
		Entity: hashfleet.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       uID,
		JobID:    jID,
		Index:    index,
		Range:    job.Range{Start: start, End: end},
		State:    job.UnitState(m["state"]),
		Fraction: fraction,
		Cracked:  cracked,
		Attempts: attempts,
	}

	if nid := m["node_id"]; nid != "" {
		u.NodeID, _ = id.ParseNodeID(nid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["assigned_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		u.AssignedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		u.CompletedAt = &t
	}

	return u, nil
}
