package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/pkg/config"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

type planStore interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	ListByOwner(ctx context.Context, filter models.PlanFilter) ([]models.Plan, int, error)
	UpdateDaysPerWeek(ctx context.Context, exec sqlx.ExtContext, id string, daysPerWeek int) error
	Delete(ctx context.Context, id string) error
	TryLockPlan(ctx context.Context, exec sqlx.ExtContext, planID string) (bool, error)
}

type planWeekStore interface {
	ListByPlan(ctx context.Context, planID string) ([]models.PlanWeek, error)
	UpdateBatch(ctx context.Context, exec sqlx.ExtContext, weeks []models.PlanWeek) error
	UpsertWeekDays(ctx context.Context, exec sqlx.ExtContext, pattern models.PlanWeekDays) error
	GetWeekDays(ctx context.Context, planID string) (*models.PlanWeekDays, error)
}

type planAssignmentStore interface {
	ListDetailedByPlan(ctx context.Context, planID string) ([]models.PlanAssignmentDetail, error)
	CountByPlan(ctx context.Context, planID string) (int, error)
}

type statsInvalidator interface {
	InvalidatePlan(ctx context.Context, planID string)
}

// PlanService covers the read and lifecycle surface of stored plans plus
// the day-pattern recalculator.
type PlanService struct {
	plans       planStore
	weeks       planWeekStore
	assignments planAssignmentStore
	tx          txProvider
	stats       statsInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.PlannerConfig
}

// NewPlanService wires the plan lifecycle dependencies.
func NewPlanService(
	plans planStore,
	weeks planWeekStore,
	assignments planAssignmentStore,
	tx txProvider,
	stats statsInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.PlannerConfig,
) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLessonMinutes <= 0 {
		cfg.DefaultLessonMinutes = 30
	}
	if cfg.MinEffectiveMinutes <= 0 {
		cfg.MinEffectiveMinutes = 5
	}
	return &PlanService{
		plans:       plans,
		weeks:       weeks,
		assignments: assignments,
		tx:          tx,
		stats:       stats,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Get returns a plan with its weeks, day pattern and assignments. Students
// only see their own plans; admins see any.
func (s *PlanService) Get(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanResponse, error) {
	plan, err := s.loadAuthorized(ctx, planID, userID, role)
	if err != nil {
		return nil, err
	}

	weeks, err := s.weeks.ListByPlan(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan weeks")
	}
	pattern, err := s.weeks.GetWeekDays(ctx, planID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load day pattern")
	}
	details, err := s.assignments.ListDetailedByPlan(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}

	resp := &dto.PlanResponse{
		Plan:        *plan,
		WeekDays:    weekDaysFromPattern(pattern),
		Weeks:       weekResponsesFromModels(weeks),
		Assignments: assignmentResponsesFromDetails(details, plan.PlaybackSpeed, s.cfg),
	}
	return resp, nil
}

// List pages through the caller's own plans.
func (s *PlanService) List(ctx context.Context, ownerID string, filter models.PlanFilter) ([]dto.PlanSummary, *models.Pagination, error) {
	filter.OwnerID = ownerID
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	plans, total, err := s.plans.ListByOwner(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}

	summaries := make([]dto.PlanSummary, 0, len(plans))
	for _, plan := range plans {
		summaries = append(summaries, dto.PlanSummary{
			ID:          plan.ID,
			CourseID:    plan.CourseID,
			StartDate:   plan.StartDate,
			EndDate:     plan.EndDate,
			Modality:    plan.Modality,
			DaysPerWeek: plan.DaysPerWeek,
			CreatedAt:   plan.CreatedAt,
		})
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return summaries, pagination, nil
}

// Delete removes a plan; the schema cascades to weeks, assignments and the
// day-pattern row.
func (s *PlanService) Delete(ctx context.Context, planID, userID string, role models.UserRole) error {
	if _, err := s.loadAuthorized(ctx, planID, userID, role); err != nil {
		return err
	}
	if err := s.plans.Delete(ctx, planID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete plan")
	}
	if s.stats != nil {
		s.stats.InvalidatePlan(ctx, planID)
	}
	s.logger.Info("plan deleted", zap.String("plan_id", planID), zap.String("user_id", userID))
	return nil
}

// UpdateWeekDays applies a new weekly day pattern to an existing plan. Week
// date boundaries never move; capacities and overload flags are recomputed
// and every assignment keeps its (week, position) slot. The write runs under
// the per-plan advisory lock so it cannot race another recalculation.
func (s *PlanService) UpdateWeekDays(ctx context.Context, planID, userID string, role models.UserRole, req dto.UpdateWeekDaysRequest) (*dto.UpdateWeekDaysResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid day pattern payload")
	}

	plan, err := s.loadAuthorized(ctx, planID, userID, role)
	if err != nil {
		return nil, err
	}

	days := uniqueDays(req.WeekDays)
	for _, day := range days {
		if day < 0 || day > 6 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "weekDays entries must be between 0 (Sunday) and 6 (Saturday)")
		}
	}
	sort.Ints(days)
	daysPerWeek := len(days)

	vacations, err := decodeVacations(plan.Vacations)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decode vacation periods")
	}

	details, err := s.assignments.ListDetailedByPlan(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}
	used := usedMinutesFromDetails(details, plan.PlaybackSpeed, s.cfg)

	weeks := recalculateWeeks(plan, vacations, daysPerWeek)
	weekModels := make([]models.PlanWeek, 0, len(weeks))
	for _, week := range weeks {
		weekModels = append(weekModels, models.PlanWeek{
			PlanID:          planID,
			Number:          week.Number,
			StartsOn:        week.StartsOn,
			EndsOn:          week.EndsOn,
			Vacation:        week.Vacation,
			CapacityMinutes: week.CapacityMinutes,
			Overloaded:      !week.Vacation && used[week.Number] > week.CapacityMinutes,
		})
	}

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked bool
	locked, err = s.plans.TryLockPlan(ctx, tx, planID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire plan lock")
		return nil, err
	}
	if !locked {
		err = appErrors.Clone(appErrors.ErrConflict, "plan is being modified by another request")
		return nil, err
	}

	if err = s.plans.UpdateDaysPerWeek(ctx, tx, planID, daysPerWeek); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan")
		return nil, err
	}
	if err = s.weeks.UpdateBatch(ctx, tx, weekModels); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan weeks")
		return nil, err
	}
	if err = s.weeks.UpsertWeekDays(ctx, tx, models.PlanWeekDays{PlanID: planID, Days: toInt64Array(days)}); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist day pattern")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit day-pattern transaction")
		return nil, err
	}

	if s.stats != nil {
		s.stats.InvalidatePlan(ctx, planID)
	}
	s.logger.Info("plan day pattern updated",
		zap.String("plan_id", planID),
		zap.Int("days_per_week", daysPerWeek),
		zap.Int("assignments_preserved", len(details)),
	)

	return &dto.UpdateWeekDaysResponse{
		PlanID:               planID,
		DaysPerWeek:          daysPerWeek,
		PreservedAssignments: len(details),
		WeeksRecalculated:    len(weekModels),
	}, nil
}

func (s *PlanService) loadAuthorized(ctx context.Context, planID, userID string, role models.UserRole) (*models.Plan, error) {
	if planID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan id is required")
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if plan.OwnerID != userID && role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan belongs to another student")
	}
	return plan, nil
}

func uniqueDays(days []int) []int {
	seen := make(map[int]bool, len(days))
	out := make([]int, 0, len(days))
	for _, day := range days {
		if seen[day] {
			continue
		}
		seen[day] = true
		out = append(out, day)
	}
	return out
}

func decodeVacations(raw []byte) ([]models.VacationInterval, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vacations []models.VacationInterval
	if err := json.Unmarshal(raw, &vacations); err != nil {
		return nil, err
	}
	return vacations, nil
}

// effectiveMinutes replicates the collector's cost resolution for stored
// assignments, so recalculation and statistics agree with generation.
func effectiveMinutes(duration *int, speed float64, cfg config.PlannerConfig) int {
	minutes := cfg.DefaultLessonMinutes
	if duration != nil && *duration > 0 {
		minutes = *duration
	}
	if speed <= 0 {
		speed = 1.0
	}
	effective := int(math.Round(float64(minutes) / speed))
	if effective < cfg.MinEffectiveMinutes {
		effective = cfg.MinEffectiveMinutes
	}
	return effective
}

func usedMinutesFromDetails(details []models.PlanAssignmentDetail, speed float64, cfg config.PlannerConfig) map[int]int {
	used := make(map[int]int, len(details))
	for _, detail := range details {
		used[detail.WeekNumber] += effectiveMinutes(detail.DurationMinutes, speed, cfg)
	}
	return used
}

func weekDaysFromPattern(pattern *models.PlanWeekDays) []int {
	if pattern == nil {
		return nil
	}
	days := make([]int, 0, len(pattern.Days))
	for _, day := range pattern.Days {
		days = append(days, int(day))
	}
	return days
}

func weekResponsesFromModels(weeks []models.PlanWeek) []dto.PlanWeekResponse {
	out := make([]dto.PlanWeekResponse, 0, len(weeks))
	for _, week := range weeks {
		out = append(out, dto.PlanWeekResponse{
			Number:          week.Number,
			StartsOn:        week.StartsOn,
			EndsOn:          week.EndsOn,
			Vacation:        week.Vacation,
			CapacityMinutes: week.CapacityMinutes,
			Overloaded:      week.Overloaded,
		})
	}
	return out
}

func assignmentResponsesFromDetails(details []models.PlanAssignmentDetail, speed float64, cfg config.PlannerConfig) []dto.PlanAssignmentResponse {
	out := make([]dto.PlanAssignmentResponse, 0, len(details))
	for _, detail := range details {
		out = append(out, dto.PlanAssignmentResponse{
			LessonID:   detail.LessonID,
			LessonName: detail.LessonName,
			TrackID:    detail.TrackID,
			TrackName:  detail.TrackName,
			WeekNumber: detail.WeekNumber,
			Position:   detail.Position,
			Minutes:    effectiveMinutes(detail.DurationMinutes, speed, cfg),
		})
	}
	return out
}
