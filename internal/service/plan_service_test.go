package service

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/pkg/config"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

func TestPlanServiceGetReturnsAggregate(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	resp, err := fixture.service.Get(context.Background(), "plan-1", "student-1", models.RoleStudent)
	require.NoError(t, err)

	assert.Equal(t, "plan-1", resp.Plan.ID)
	assert.Equal(t, []int{1, 2, 3}, resp.WeekDays)
	require.Len(t, resp.Weeks, 2)
	require.Len(t, resp.Assignments, 2)
	assert.Equal(t, 120, resp.Assignments[0].Minutes)
}

func TestPlanServiceGetForbiddenForOtherStudent(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	_, err := fixture.service.Get(context.Background(), "plan-1", "student-2", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanServiceGetAdminSeesAnyPlan(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	_, err := fixture.service.Get(context.Background(), "plan-1", "someone-else", models.RoleAdmin)
	assert.NoError(t, err)
}

func TestPlanServiceGetNotFound(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{planMissing: true})

	_, err := fixture.service.Get(context.Background(), "nope", "student-1", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPlanServiceListClampsPaging(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	_, pagination, err := fixture.service.List(context.Background(), "student-1", models.PlanFilter{Page: -3, PageSize: 9999})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, "student-1", fixture.plans.listedFilter.OwnerID)
}

func TestPlanServiceDeleteInvalidatesStats(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	err := fixture.service.Delete(context.Background(), "plan-1", "student-1", models.RoleStudent)
	require.NoError(t, err)
	assert.True(t, fixture.plans.deleted)
	assert.Equal(t, []string{"plan-1"}, fixture.stats.invalidated)
}

func TestPlanServiceUpdateWeekDaysRecalculates(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectCommit()

	resp, err := fixture.service.UpdateWeekDays(context.Background(), "plan-1", "student-1", models.RoleStudent, dto.UpdateWeekDaysRequest{
		WeekDays: []int{6, 2},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.DaysPerWeek)
	assert.Equal(t, 2, resp.PreservedAssignments)
	assert.Equal(t, 2, resp.WeeksRecalculated)

	assert.Equal(t, 2, fixture.plans.updatedDaysPerWeek)
	require.NotNil(t, fixture.weeks.pattern)
	assert.Equal(t, []int64{2, 6}, []int64(fixture.weeks.pattern.Days))

	// Daily minutes 60, two study days: capacity drops to 120 per week
	// while week boundaries stay put. Each week carries exactly 120 used
	// minutes, so neither tips over.
	require.Len(t, fixture.weeks.updated, 2)
	for i, week := range fixture.weeks.updated {
		assert.Equal(t, i+1, week.Number)
		assert.Equal(t, 120, week.CapacityMinutes)
		assert.False(t, week.Overloaded)
	}

	assert.Equal(t, []string{"plan-1"}, fixture.stats.invalidated)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestPlanServiceUpdateWeekDaysFlagsOverload(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{
		details: []models.PlanAssignmentDetail{
			mockDetail("l1", 1, 1, 120),
			mockDetail("l2", 1, 2, 120),
		},
	})
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectCommit()

	_, err := fixture.service.UpdateWeekDays(context.Background(), "plan-1", "student-1", models.RoleStudent, dto.UpdateWeekDaysRequest{
		WeekDays: []int{3},
	})
	require.NoError(t, err)

	// 240 used minutes against a 60-minute week.
	require.Len(t, fixture.weeks.updated, 2)
	assert.True(t, fixture.weeks.updated[0].Overloaded)
	assert.False(t, fixture.weeks.updated[1].Overloaded)
}

func TestPlanServiceUpdateWeekDaysLockBusy(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{lockBusy: true})
	fixture.mock.ExpectBegin()
	fixture.mock.ExpectRollback()

	_, err := fixture.service.UpdateWeekDays(context.Background(), "plan-1", "student-1", models.RoleStudent, dto.UpdateWeekDaysRequest{
		WeekDays: []int{1, 3},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())
}

func TestPlanServiceUpdateWeekDaysRejectsBadDays(t *testing.T) {
	fixture := newPlanServiceFixture(t, planServiceFixtureConfig{})

	_, err := fixture.service.UpdateWeekDays(context.Background(), "plan-1", "student-1", models.RoleStudent, dto.UpdateWeekDaysRequest{
		WeekDays: []int{1, 9},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = fixture.service.UpdateWeekDays(context.Background(), "plan-1", "student-1", models.RoleStudent, dto.UpdateWeekDaysRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

// --- Fixtures ---

type planServiceFixtureConfig struct {
	planMissing bool
	lockBusy    bool
	details     []models.PlanAssignmentDetail
}

type planServiceFixture struct {
	service *PlanService
	plans   *planStoreStub
	weeks   *planWeekStoreStub
	stats   *statsInvalidatorStub
	mock    sqlmock.Sqlmock
}

func newPlanServiceFixture(t *testing.T, cfg planServiceFixtureConfig) *planServiceFixture {
	details := cfg.details
	if details == nil {
		details = []models.PlanAssignmentDetail{
			mockDetail("l1", 1, 1, 120),
			mockDetail("l2", 2, 1, 120),
		}
	}
	plans := &planStoreStub{missing: cfg.planMissing, lockBusy: cfg.lockBusy, plan: mockPlan()}
	weeks := &planWeekStoreStub{
		weeks: []models.PlanWeek{
			{PlanID: "plan-1", Number: 1, StartsOn: date("2026-01-05"), EndsOn: date("2026-01-11"), CapacityMinutes: 180},
			{PlanID: "plan-1", Number: 2, StartsOn: date("2026-01-12"), EndsOn: date("2026-01-18"), CapacityMinutes: 180},
		},
		days: &models.PlanWeekDays{PlanID: "plan-1", Days: []int64{1, 2, 3}},
	}
	assignments := &planAssignmentStoreStub{details: details}
	stats := &statsInvalidatorStub{}
	tx, mock := newTxProviderMock(t)

	service := NewPlanService(
		plans,
		weeks,
		assignments,
		tx,
		stats,
		nil,
		nil,
		config.PlannerConfig{DefaultLessonMinutes: 30, MinEffectiveMinutes: 5},
	)
	return &planServiceFixture{service: service, plans: plans, weeks: weeks, stats: stats, mock: mock}
}

func mockPlan() *models.Plan {
	return &models.Plan{
		ID:            "plan-1",
		OwnerID:       "student-1",
		CourseID:      "course-1",
		StartDate:     date("2026-01-05"),
		EndDate:       date("2026-01-18"),
		DailyMinutes:  60,
		DaysPerWeek:   3,
		Modality:      models.PlanModalitySequential,
		PlaybackSpeed: 1.0,
		Vacations:     types.JSONText(`[]`),
	}
}

func mockDetail(lessonID string, week, position, minutes int) models.PlanAssignmentDetail {
	return models.PlanAssignmentDetail{
		PlanID:          "plan-1",
		LessonID:        lessonID,
		WeekNumber:      week,
		Position:        position,
		LessonName:      "lesson " + lessonID,
		DurationMinutes: &minutes,
		TrackID:         "track-1",
		TrackName:       "track",
		DisciplineID:    "disc-1",
		DisciplineName:  "discipline",
	}
}

type planStoreStub struct {
	plan               *models.Plan
	missing            bool
	lockBusy           bool
	deleted            bool
	updatedDaysPerWeek int
	listedFilter       models.PlanFilter
}

func (s *planStoreStub) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if s.missing {
		return nil, sql.ErrNoRows
	}
	plan := *s.plan
	return &plan, nil
}

func (s *planStoreStub) ListByOwner(ctx context.Context, filter models.PlanFilter) ([]models.Plan, int, error) {
	s.listedFilter = filter
	return []models.Plan{*s.plan}, 1, nil
}

func (s *planStoreStub) UpdateDaysPerWeek(ctx context.Context, exec sqlx.ExtContext, id string, daysPerWeek int) error {
	s.updatedDaysPerWeek = daysPerWeek
	return nil
}

func (s *planStoreStub) Delete(ctx context.Context, id string) error {
	s.deleted = true
	return nil
}

func (s *planStoreStub) TryLockPlan(ctx context.Context, exec sqlx.ExtContext, planID string) (bool, error) {
	return !s.lockBusy, nil
}

type planWeekStoreStub struct {
	weeks   []models.PlanWeek
	days    *models.PlanWeekDays
	updated []models.PlanWeek
	pattern *models.PlanWeekDays
}

func (s *planWeekStoreStub) ListByPlan(ctx context.Context, planID string) ([]models.PlanWeek, error) {
	return s.weeks, nil
}

func (s *planWeekStoreStub) UpdateBatch(ctx context.Context, exec sqlx.ExtContext, weeks []models.PlanWeek) error {
	s.updated = append([]models.PlanWeek(nil), weeks...)
	return nil
}

func (s *planWeekStoreStub) UpsertWeekDays(ctx context.Context, exec sqlx.ExtContext, pattern models.PlanWeekDays) error {
	s.pattern = &pattern
	return nil
}

func (s *planWeekStoreStub) GetWeekDays(ctx context.Context, planID string) (*models.PlanWeekDays, error) {
	if s.days == nil {
		return nil, sql.ErrNoRows
	}
	return s.days, nil
}

type planAssignmentStoreStub struct {
	details []models.PlanAssignmentDetail
}

func (s *planAssignmentStoreStub) ListDetailedByPlan(ctx context.Context, planID string) ([]models.PlanAssignmentDetail, error) {
	return s.details, nil
}

func (s *planAssignmentStoreStub) CountByPlan(ctx context.Context, planID string) (int, error) {
	return len(s.details), nil
}

type statsInvalidatorStub struct {
	invalidated []string
}

func (s *statsInvalidatorStub) InvalidatePlan(ctx context.Context, planID string) {
	s.invalidated = append(s.invalidated, planID)
}
