package service

import (
	"time"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// planWeek is the in-memory shape of one horizon week during generation.
type planWeek struct {
	Number          int
	StartsOn        time.Time
	EndsOn          time.Time
	Vacation        bool
	CapacityMinutes int
	Overloaded      bool
}

// dateOnly truncates a timestamp to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// buildPlanWeeks partitions the inclusive [start, end] range into 7-day
// blocks counted from the start date. Blocks are deliberately not aligned
// to calendar Mondays so the first (possibly partial) week keeps a
// consistent shape. A week overlapping any vacation interval, even on a
// single day, is excluded whole; partial-capacity credit is not given.
func buildPlanWeeks(start, end time.Time, vacations []models.VacationInterval, dailyMinutes, daysPerWeek int) []planWeek {
	start = dateOnly(start)
	end = dateOnly(end)
	if end.Before(start) {
		return nil
	}

	capacity := dailyMinutes * daysPerWeek
	weeks := make([]planWeek, 0, 16)

	number := 1
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, 7) {
		weekEnd := cursor.AddDate(0, 0, 6)
		if weekEnd.After(end) {
			weekEnd = end
		}

		week := planWeek{
			Number:   number,
			StartsOn: cursor,
			EndsOn:   weekEnd,
		}
		if overlapsVacation(cursor, weekEnd, vacations) {
			week.Vacation = true
		} else {
			week.CapacityMinutes = capacity
		}

		weeks = append(weeks, week)
		number++
	}

	return weeks
}

// overlapsVacation reports whether the inclusive [weekStart, weekEnd]
// range intersects any vacation interval.
func overlapsVacation(weekStart, weekEnd time.Time, vacations []models.VacationInterval) bool {
	for _, vacation := range vacations {
		vStart := dateOnly(vacation.Start)
		vEnd := dateOnly(vacation.End)
		if !weekEnd.Before(vStart) && !weekStart.After(vEnd) {
			return true
		}
	}
	return false
}

// horizonWeekCount returns how many 7-day blocks the range spans without
// materializing them, used to bound absurd requests early.
func horizonWeekCount(start, end time.Time) int {
	start = dateOnly(start)
	end = dateOnly(end)
	if end.Before(start) {
		return 0
	}
	days := int(end.Sub(start).Hours()/24) + 1
	return (days + 6) / 7
}

// recalculateWeeks rebuilds week capacities for an existing plan under a
// new day pattern. Week count and date boundaries are a function of the
// plan's date range alone and therefore never move; only capacities (and,
// downstream, overload flags) change.
func recalculateWeeks(plan *models.Plan, vacations []models.VacationInterval, daysPerWeek int) []planWeek {
	return buildPlanWeeks(plan.StartDate, plan.EndDate, vacations, plan.DailyMinutes, daysPerWeek)
}
