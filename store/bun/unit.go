package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hashfleet/hashfleet"
	"github.com/hashfleet/hashfleet/id"
	"github.com/hashfleet/hashfleet/job"
)

// CreateUnits persists the work units produced by partitioning a job.
func (s *Store) CreateUnits(ctx context.Context, units []*job.WorkUnit) error {
	if len(units) == 0 {
		return nil
	}

	models := make([]*unitModel, 0, len(units))
	for _, u := range units {
		models = append(models, toUnitModel(u))
	}

	_, err := s.db.NewInsert().Model(&models).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return hashfleet.ErrUnitAlreadyExists
		}
		return fmt.Errorf("hashfleet/bun: create units: %w", err)
	}
	return nil
}

// DeleteUnits removes work units. Unknown IDs are ignored.
func (s *Store) DeleteUnits(ctx context.Context, unitIDs []id.UnitID) error {
	if len(unitIDs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(unitIDs))
	for _, uid := range unitIDs {
		ids = append(ids, uid.String())
	}
	_, err := s.db.NewDelete().Model((*unitModel)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: delete units: %w", err)
	}
	return nil
}

// GetUnit retrieves a work unit by ID.
func (s *Store) GetUnit(ctx context.Context, unitID id.UnitID) (*job.WorkUnit, error) {
	m := new(unitModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", unitID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hashfleet.ErrUnitNotFound
		}
		return nil, fmt.Errorf("hashfleet/bun: get unit: %w", err)
	}
	return fromUnitModel(m)
}

// UpdateUnit persists changes to an existing work unit.
func (s *Store) UpdateUnit(ctx context.Context, u *job.WorkUnit) error {
	m := toUnitModel(u)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("hashfleet/bun: update unit: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hashfleet.ErrUnitNotFound
	}
	return nil
}

// ListUnitsByJob returns all units of a job ordered by unit index.
func (s *Store) ListUnitsByJob(ctx context.Context, jobID id.JobID) ([]*job.WorkUnit, error) {
	var models []unitModel
	err := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID.String()).
		OrderExpr("unit_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: list units by job: %w", err)
	}
	return convertUnits(models)
}

// ListUnitsByState returns all units in the given state across jobs,
// ordered by creation time.
func (s *Store) ListUnitsByState(ctx context.Context, state job.UnitState) ([]*job.WorkUnit, error) {
	var models []unitModel
	err := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state)).
		OrderExpr("created_at ASC, unit_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: list units by state: %w", err)
	}
	return convertUnits(models)
}

// ListUnitsByNode returns the units currently held by a node.
func (s *Store) ListUnitsByNode(ctx context.Context, nodeID id.NodeID) ([]*job.WorkUnit, error) {
	var models []unitModel
	err := s.db.NewSelect().Model(&models).
		Where("node_id = ?", nodeID.String()).
		OrderExpr("unit_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hashfleet/bun: list units by node: %w", err)
	}
	return convertUnits(models)
}

func convertUnits(models []unitModel) ([]*job.WorkUnit, error) {
	units := make([]*job.WorkUnit, 0, len(models))
	for i := range models {
		u, err := fromUnitModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("hashfleet/bun: convert unit: %w", err)
		}
		units = append(units, u)
	}
	return units, nil
}
