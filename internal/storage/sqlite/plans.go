package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

// UpsertDevPlan records (or refreshes) the link between a project and
// one structured document. The version bumps on every refresh.
func (s *Store) UpsertDevPlan(ctx context.Context, plan *types.DevPlan) error {
	if plan == nil || plan.PlanType == "" {
		return errors.New("plan type required")
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dev_plans (project_id, plan_type, file_path, version, metadata, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)
			ON CONFLICT(project_id, plan_type) DO UPDATE SET
				file_path = excluded.file_path,
				version = dev_plans.version + 1,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at`,
			plan.ProjectID, plan.PlanType, plan.FilePath,
			marshalJSON(plan.Metadata), fmtTime(time.Now()))
		return err
	})
}

// ListDevPlans returns every structured document registered for a
// project.
func (s *Store) ListDevPlans(ctx context.Context, projectID int64) ([]*types.DevPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, plan_type, file_path, version, metadata
		FROM dev_plans WHERE project_id = ? ORDER BY plan_type`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dev plans: %w", err)
	}
	defer rows.Close()

	var out []*types.DevPlan
	for rows.Next() {
		var p types.DevPlan
		var metadata string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.PlanType, &p.FilePath,
			&p.Version, &metadata); err != nil {
			return nil, err
		}
		p.Metadata = unmarshalStringMap(metadata)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpsertPhase records one phase-plan step, keyed by (project, name).
func (s *Store) UpsertPhase(ctx context.Context, phase *types.Phase) error {
	if phase == nil || phase.Name == "" {
		return errors.New("phase name required")
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (project_id, name, status, position, metadata, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, name) DO UPDATE SET
				status = excluded.status,
				position = excluded.position,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at`,
			phase.ProjectID, phase.Name, orDefault(phase.Status, types.StatusPlanning),
			phase.Position, marshalJSON(phase.Metadata), fmtTime(time.Now()))
		return err
	})
}

// ListPhases returns a project's phases in plan order.
func (s *Store) ListPhases(ctx context.Context, projectID int64) ([]*types.Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, status, position, metadata
		FROM phases WHERE project_id = ? ORDER BY position, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var out []*types.Phase
	for rows.Next() {
		var p types.Phase
		var metadata string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Status,
			&p.Position, &metadata); err != nil {
			return nil, err
		}
		p.Metadata = unmarshalStringMap(metadata)
		out = append(out, &p)
	}
	return out, rows.Err()
}
