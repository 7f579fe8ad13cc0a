package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/models"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBuildPlanWeeksPartitionsFromStartDate(t *testing.T) {
	// A Wednesday start: blocks are counted from the start date, not
	// snapped to calendar Mondays.
	weeks := buildPlanWeeks(date("2026-01-07"), date("2026-01-27"), nil, 60, 5)

	require.Len(t, weeks, 3)
	assert.Equal(t, 1, weeks[0].Number)
	assert.Equal(t, date("2026-01-07"), weeks[0].StartsOn)
	assert.Equal(t, date("2026-01-13"), weeks[0].EndsOn)
	assert.Equal(t, date("2026-01-14"), weeks[1].StartsOn)
	assert.Equal(t, date("2026-01-20"), weeks[1].EndsOn)
	assert.Equal(t, date("2026-01-21"), weeks[2].StartsOn)
	assert.Equal(t, date("2026-01-27"), weeks[2].EndsOn)
	for _, week := range weeks {
		assert.Equal(t, 300, week.CapacityMinutes)
		assert.False(t, week.Vacation)
	}
}

func TestBuildPlanWeeksTruncatesFinalPartialWeek(t *testing.T) {
	weeks := buildPlanWeeks(date("2026-01-05"), date("2026-01-14"), nil, 120, 3)

	require.Len(t, weeks, 2)
	assert.Equal(t, date("2026-01-12"), weeks[1].StartsOn)
	assert.Equal(t, date("2026-01-14"), weeks[1].EndsOn)
	// A partial week still gets the full weekly capacity.
	assert.Equal(t, 360, weeks[1].CapacityMinutes)
}

func TestBuildPlanWeeksSingleDayRange(t *testing.T) {
	weeks := buildPlanWeeks(date("2026-03-02"), date("2026-03-02"), nil, 90, 2)

	require.Len(t, weeks, 1)
	assert.Equal(t, date("2026-03-02"), weeks[0].StartsOn)
	assert.Equal(t, date("2026-03-02"), weeks[0].EndsOn)
	assert.Equal(t, 180, weeks[0].CapacityMinutes)
}

func TestBuildPlanWeeksEndBeforeStart(t *testing.T) {
	assert.Empty(t, buildPlanWeeks(date("2026-02-10"), date("2026-02-01"), nil, 60, 5))
}

func TestBuildPlanWeeksVacationOverlapExcludesWholeWeek(t *testing.T) {
	// The vacation touches only the last day of week 2.
	vacations := []models.VacationInterval{
		{Start: date("2026-01-20"), End: date("2026-01-22")},
	}
	weeks := buildPlanWeeks(date("2026-01-07"), date("2026-01-27"), vacations, 60, 5)

	require.Len(t, weeks, 3)
	assert.False(t, weeks[0].Vacation)
	assert.True(t, weeks[1].Vacation)
	assert.Equal(t, 0, weeks[1].CapacityMinutes)
	assert.True(t, weeks[2].Vacation)
	assert.Equal(t, 0, weeks[2].CapacityMinutes)
}

func TestBuildPlanWeeksVacationKeepsDateBoundaries(t *testing.T) {
	vacations := []models.VacationInterval{
		{Start: date("2026-01-14"), End: date("2026-01-20")},
	}
	with := buildPlanWeeks(date("2026-01-07"), date("2026-01-27"), vacations, 60, 5)
	without := buildPlanWeeks(date("2026-01-07"), date("2026-01-27"), nil, 60, 5)

	require.Equal(t, len(without), len(with))
	for i := range with {
		assert.Equal(t, without[i].StartsOn, with[i].StartsOn)
		assert.Equal(t, without[i].EndsOn, with[i].EndsOn)
	}
}

func TestHorizonWeekCount(t *testing.T) {
	assert.Equal(t, 0, horizonWeekCount(date("2026-01-02"), date("2026-01-01")))
	assert.Equal(t, 1, horizonWeekCount(date("2026-01-01"), date("2026-01-01")))
	assert.Equal(t, 1, horizonWeekCount(date("2026-01-01"), date("2026-01-07")))
	assert.Equal(t, 2, horizonWeekCount(date("2026-01-01"), date("2026-01-08")))
	assert.Equal(t, 52, horizonWeekCount(date("2026-01-01"), date("2026-12-30")))
}

func TestRecalculateWeeksChangesOnlyCapacity(t *testing.T) {
	plan := &models.Plan{
		StartDate:    date("2026-01-07"),
		EndDate:      date("2026-01-27"),
		DailyMinutes: 60,
	}

	before := recalculateWeeks(plan, nil, 5)
	after := recalculateWeeks(plan, nil, 3)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Number, after[i].Number)
		assert.Equal(t, before[i].StartsOn, after[i].StartsOn)
		assert.Equal(t, before[i].EndsOn, after[i].EndsOn)
		assert.Equal(t, 300, before[i].CapacityMinutes)
		assert.Equal(t, 180, after[i].CapacityMinutes)
	}
}
