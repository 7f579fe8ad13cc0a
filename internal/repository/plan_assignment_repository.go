package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// PlanAssignmentRepository persists lesson-to-week placements.
type PlanAssignmentRepository struct {
	db *sqlx.DB
}

// NewPlanAssignmentRepository constructs the repository.
func NewPlanAssignmentRepository(db *sqlx.DB) *PlanAssignmentRepository {
	return &PlanAssignmentRepository{db: db}
}

func (r *PlanAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch writes the full assignment set of a generated plan. The
// unique constraints on (plan_id, lesson_id) and (plan_id, week_number,
// position) back the allocator's invariants at the storage layer.
func (r *PlanAssignmentRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.PlanAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	target := r.exec(exec)
	const query = `
INSERT INTO plan_assignments (plan_id, lesson_id, week_number, position)
VALUES (:plan_id, :lesson_id, :week_number, :position)`
	for i := range assignments {
		if _, err := sqlx.NamedExecContext(ctx, target, query, &assignments[i]); err != nil {
			return fmt.Errorf("insert plan assignment: %w", err)
		}
	}
	return nil
}

// ListByPlan returns the raw assignment rows in (week, position) order.
func (r *PlanAssignmentRepository) ListByPlan(ctx context.Context, planID string) ([]models.PlanAssignment, error) {
	const query = `
SELECT plan_id, lesson_id, week_number, position
FROM plan_assignments WHERE plan_id = $1 ORDER BY week_number ASC, position ASC`
	var assignments []models.PlanAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, planID); err != nil {
		return nil, fmt.Errorf("list plan assignments: %w", err)
	}
	return assignments, nil
}

// ListDetailedByPlan joins assignments against the content catalog for
// statistics and exports.
func (r *PlanAssignmentRepository) ListDetailedByPlan(ctx context.Context, planID string) ([]models.PlanAssignmentDetail, error) {
	const query = `
SELECT a.plan_id, a.lesson_id, a.week_number, a.position,
       l.name AS lesson_name, l.duration_minutes,
       t.id AS track_id, t.name AS track_name,
       d.id AS discipline_id, d.name AS discipline_name
FROM plan_assignments a
JOIN lessons l ON l.id = a.lesson_id
JOIN course_modules m ON m.id = l.module_id
JOIN tracks t ON t.id = m.track_id
JOIN disciplines d ON d.id = t.discipline_id
WHERE a.plan_id = $1
ORDER BY a.week_number ASC, a.position ASC`
	var details []models.PlanAssignmentDetail
	if err := r.db.SelectContext(ctx, &details, query, planID); err != nil {
		return nil, fmt.Errorf("list detailed plan assignments: %w", err)
	}
	return details, nil
}

// CountByPlan returns how many lessons the plan schedules.
func (r *PlanAssignmentRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	const query = `SELECT COUNT(*) FROM plan_assignments WHERE plan_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, planID); err != nil {
		return 0, fmt.Errorf("count plan assignments: %w", err)
	}
	return count, nil
}
