package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/models"
)

func TestPlanWeekRepositoryInsertBatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_weeks")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_weeks")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	weeks := []models.PlanWeek{
		{PlanID: "plan-1", Number: 1, StartsOn: time.Now(), EndsOn: time.Now(), CapacityMinutes: 300},
		{PlanID: "plan-1", Number: 2, StartsOn: time.Now(), EndsOn: time.Now(), Vacation: true},
	}
	require.NoError(t, repo.InsertBatch(context.Background(), nil, weeks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanWeekRepositoryInsertBatchEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	require.NoError(t, repo.InsertBatch(context.Background(), nil, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanWeekRepositoryUpdateBatch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE plan_weeks SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	weeks := []models.PlanWeek{
		{PlanID: "plan-1", Number: 1, StartsOn: time.Now(), EndsOn: time.Now(), CapacityMinutes: 120, Overloaded: true},
	}
	require.NoError(t, repo.UpdateBatch(context.Background(), nil, weeks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanWeekRepositoryListByPlan(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"plan_id", "number", "starts_on", "ends_on", "vacation", "capacity_minutes", "overloaded"}).
		AddRow("plan-1", 1, now, now, false, 300, false).
		AddRow("plan-1", 2, now, now, true, 0, false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_weeks WHERE plan_id = $1 ORDER BY number ASC")).
		WithArgs("plan-1").
		WillReturnRows(rows)

	weeks, err := repo.ListByPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.True(t, weeks[1].Vacation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanWeekRepositoryUpsertWeekDays(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_week_days")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	pattern := models.PlanWeekDays{PlanID: "plan-1", Days: pq.Int64Array{1, 3, 5}}
	require.NoError(t, repo.UpsertWeekDays(context.Background(), nil, pattern))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanWeekRepositoryGetWeekDays(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPlanWeekRepository(db)

	rows := sqlmock.NewRows([]string{"plan_id", "days"}).
		AddRow("plan-1", pq.Int64Array{1, 3, 5})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT plan_id, days FROM plan_week_days WHERE plan_id = $1")).
		WithArgs("plan-1").
		WillReturnRows(rows)

	pattern, err := repo.GetWeekDays(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, pq.Int64Array{1, 3, 5}, pattern.Days)
	assert.NoError(t, mock.ExpectationsWereMet())
}
