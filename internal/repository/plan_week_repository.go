package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// PlanWeekRepository persists the generated week metadata and the weekly
// day pattern a plan was generated against.
type PlanWeekRepository struct {
	db *sqlx.DB
}

// NewPlanWeekRepository constructs the repository.
func NewPlanWeekRepository(db *sqlx.DB) *PlanWeekRepository {
	return &PlanWeekRepository{db: db}
}

func (r *PlanWeekRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InsertBatch writes the full week set of a freshly generated plan.
func (r *PlanWeekRepository) InsertBatch(ctx context.Context, exec sqlx.ExtContext, weeks []models.PlanWeek) error {
	if len(weeks) == 0 {
		return nil
	}
	target := r.exec(exec)
	const query = `
INSERT INTO plan_weeks (plan_id, number, starts_on, ends_on, vacation, capacity_minutes, overloaded)
VALUES (:plan_id, :number, :starts_on, :ends_on, :vacation, :capacity_minutes, :overloaded)`
	for i := range weeks {
		if _, err := sqlx.NamedExecContext(ctx, target, query, &weeks[i]); err != nil {
			return fmt.Errorf("insert plan week %d: %w", weeks[i].Number, err)
		}
	}
	return nil
}

// UpdateBatch rewrites capacity and overload metadata after a
// recalculation. Week numbers and the owning plan never change.
func (r *PlanWeekRepository) UpdateBatch(ctx context.Context, exec sqlx.ExtContext, weeks []models.PlanWeek) error {
	target := r.exec(exec)
	const query = `
UPDATE plan_weeks SET starts_on = :starts_on, ends_on = :ends_on, vacation = :vacation,
       capacity_minutes = :capacity_minutes, overloaded = :overloaded
WHERE plan_id = :plan_id AND number = :number`
	for i := range weeks {
		if _, err := sqlx.NamedExecContext(ctx, target, query, &weeks[i]); err != nil {
			return fmt.Errorf("update plan week %d: %w", weeks[i].Number, err)
		}
	}
	return nil
}

// ListByPlan returns the plan's weeks in horizon order.
func (r *PlanWeekRepository) ListByPlan(ctx context.Context, planID string) ([]models.PlanWeek, error) {
	const query = `
SELECT plan_id, number, starts_on, ends_on, vacation, capacity_minutes, overloaded
FROM plan_weeks WHERE plan_id = $1 ORDER BY number ASC`
	var weeks []models.PlanWeek
	if err := r.db.SelectContext(ctx, &weeks, query, planID); err != nil {
		return nil, fmt.Errorf("list plan weeks: %w", err)
	}
	return weeks, nil
}

// UpsertWeekDays stores the weekday set (0-6) the student studies.
func (r *PlanWeekRepository) UpsertWeekDays(ctx context.Context, exec sqlx.ExtContext, pattern models.PlanWeekDays) error {
	target := r.exec(exec)
	const query = `
INSERT INTO plan_week_days (plan_id, days) VALUES (:plan_id, :days)
ON CONFLICT (plan_id) DO UPDATE SET days = EXCLUDED.days`
	if _, err := sqlx.NamedExecContext(ctx, target, query, &pattern); err != nil {
		return fmt.Errorf("upsert plan week days: %w", err)
	}
	return nil
}

// GetWeekDays loads the weekday set for a plan.
func (r *PlanWeekRepository) GetWeekDays(ctx context.Context, planID string) (*models.PlanWeekDays, error) {
	const query = `SELECT plan_id, days FROM plan_week_days WHERE plan_id = $1`
	var pattern models.PlanWeekDays
	if err := r.db.GetContext(ctx, &pattern, query, planID); err != nil {
		return nil, err
	}
	return &pattern, nil
}
