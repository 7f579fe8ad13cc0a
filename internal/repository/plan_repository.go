package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// PlanRepository persists study-plan aggregate roots.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// TryLockOwner takes the per-owner advisory lock inside the current
// transaction. It returns false when another generation for the same
// owner holds it, which callers surface as a conflict rather than block.
func (r *PlanRepository) TryLockOwner(ctx context.Context, exec sqlx.ExtContext, ownerID string) (bool, error) {
	return r.tryLock(ctx, exec, "plan_owner:"+ownerID)
}

// TryLockPlan takes the per-plan advisory lock used by recalculation.
func (r *PlanRepository) TryLockPlan(ctx context.Context, exec sqlx.ExtContext, planID string) (bool, error) {
	return r.tryLock(ctx, exec, "plan:"+planID)
}

func (r *PlanRepository) tryLock(ctx context.Context, exec sqlx.ExtContext, key string) (bool, error) {
	target := r.exec(exec)
	var acquired bool
	const query = `SELECT pg_try_advisory_xact_lock(hashtext($1))`
	if err := sqlx.GetContext(ctx, target, &acquired, query, key); err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return acquired, nil
}

// Create inserts a plan header row.
func (r *PlanRepository) Create(ctx context.Context, exec sqlx.ExtContext, plan *models.Plan) error {
	if plan == nil {
		return fmt.Errorf("plan payload is nil")
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if len(plan.Vacations) == 0 {
		plan.Vacations = types.JSONText(`[]`)
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	const query = `
INSERT INTO plans (id, owner_id, course_id, start_date, end_date, daily_minutes, days_per_week,
                   priority_floor, modality, playback_speed, exclude_completed,
                   discipline_ids, module_ids, track_order, vacations, created_at, updated_at)
VALUES (:id, :owner_id, :course_id, :start_date, :end_date, :daily_minutes, :days_per_week,
        :priority_floor, :modality, :playback_speed, :exclude_completed,
        :discipline_ids, :module_ids, :track_order, :vacations, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, plan); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// FindByID loads a plan header by its identifier.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	const query = `
SELECT id, owner_id, course_id, start_date, end_date, daily_minutes, days_per_week,
       priority_floor, modality, playback_speed, exclude_completed,
       discipline_ids, module_ids, track_order, vacations, created_at, updated_at
FROM plans WHERE id = $1`
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListByOwner returns a page of the owner's plans, newest first.
func (r *PlanRepository) ListByOwner(ctx context.Context, filter models.PlanFilter) ([]models.Plan, int, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	countQuery := `SELECT COUNT(*) FROM plans WHERE owner_id = $1`
	listQuery := `
SELECT id, owner_id, course_id, start_date, end_date, daily_minutes, days_per_week,
       priority_floor, modality, playback_speed, exclude_completed,
       discipline_ids, module_ids, track_order, vacations, created_at, updated_at
FROM plans WHERE owner_id = $1`
	args := []interface{}{filter.OwnerID}

	if filter.CourseID != "" {
		countQuery += ` AND course_id = $2`
		listQuery += ` AND course_id = $2`
		args = append(args, filter.CourseID)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count plans: %w", err)
	}

	listQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list plans: %w", err)
	}
	return plans, total, nil
}

// UpdateDaysPerWeek persists the recalculated day count on the header.
func (r *PlanRepository) UpdateDaysPerWeek(ctx context.Context, exec sqlx.ExtContext, id string, daysPerWeek int) error {
	const query = `UPDATE plans SET days_per_week = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.exec(exec).ExecContext(ctx, query, daysPerWeek, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update plan day count: %w", err)
	}
	return nil
}

// Delete removes a plan. Weeks, assignments and the day pattern cascade
// through foreign keys.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM plans WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("plan rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
