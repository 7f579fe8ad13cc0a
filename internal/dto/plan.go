package dto

import (
	"time"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// VacationPeriodRequest is one date range excluded from study capacity.
type VacationPeriodRequest struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

// GeneratePlanRequest instructs the engine to build and persist a plan.
type GeneratePlanRequest struct {
	CourseID         string                  `json:"courseId" validate:"required"`
	StartDate        string                  `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate          string                  `json:"endDate" validate:"required,datetime=2006-01-02"`
	DailyMinutes     int                     `json:"dailyMinutes" validate:"required,min=1"`
	DaysPerWeek      int                     `json:"daysPerWeek" validate:"required,min=1,max=7"`
	WeekDays         []int                   `json:"weekDays" validate:"omitempty,dive,min=0,max=6"`
	PriorityFloor    int                     `json:"priorityFloor" validate:"omitempty,min=0"`
	Modality         string                  `json:"modality" validate:"required"`
	PlaybackSpeed    float64                 `json:"playbackSpeed" validate:"omitempty,min=0.5,max=3"`
	ExcludeCompleted *bool                   `json:"excludeCompleted"`
	Vacations        []VacationPeriodRequest `json:"vacations" validate:"omitempty,dive"`
	DisciplineIDs    []string                `json:"disciplineIds"`
	ModuleIDs        []string                `json:"moduleIds"`
	TrackOrder       []string                `json:"trackOrder"`
}

// UpdateWeekDaysRequest changes a plan's weekly day pattern.
type UpdateWeekDaysRequest struct {
	WeekDays []int `json:"weekDays" validate:"required,min=1,max=7,dive,min=0,max=6"`
}

// UpdateWeekDaysResponse reports what the recalculation touched.
type UpdateWeekDaysResponse struct {
	PlanID               string `json:"planId"`
	DaysPerWeek          int    `json:"daysPerWeek"`
	PreservedAssignments int    `json:"preservedAssignments"`
	WeeksRecalculated    int    `json:"weeksRecalculated"`
}

// PlanWeekResponse is one week of the generated horizon.
type PlanWeekResponse struct {
	Number          int       `json:"number"`
	StartsOn        time.Time `json:"startsOn"`
	EndsOn          time.Time `json:"endsOn"`
	Vacation        bool      `json:"vacation"`
	CapacityMinutes int       `json:"capacityMinutes"`
	Overloaded      bool      `json:"overloaded"`
}

// PlanAssignmentResponse is one lesson placement.
type PlanAssignmentResponse struct {
	LessonID   string `json:"lessonId"`
	LessonName string `json:"lessonName,omitempty"`
	TrackID    string `json:"trackId,omitempty"`
	TrackName  string `json:"trackName,omitempty"`
	WeekNumber int    `json:"weekNumber"`
	Position   int    `json:"position"`
	Minutes    int    `json:"minutes,omitempty"`
}

// PlanResponse is the persisted aggregate returned to callers.
type PlanResponse struct {
	Plan        models.Plan              `json:"plan"`
	WeekDays    []int                    `json:"weekDays"`
	Weeks       []PlanWeekResponse       `json:"weeks"`
	Assignments []PlanAssignmentResponse `json:"assignments,omitempty"`
}

// GeneratePlanResponse bundles the new plan with its utilization numbers.
type GeneratePlanResponse struct {
	Plan       PlanResponse           `json:"plan"`
	Statistics PlanStatisticsResponse `json:"statistics"`
}

// WeekStatistics is per-week utilization.
type WeekStatistics struct {
	WeekNumber       int       `json:"weekNumber"`
	StartsOn         time.Time `json:"startsOn"`
	EndsOn           time.Time `json:"endsOn"`
	Vacation         bool      `json:"vacation"`
	UsedMinutes      int       `json:"usedMinutes"`
	AvailableMinutes int       `json:"availableMinutes"`
	PercentUsed      float64   `json:"percentUsed"`
	Overloaded       bool      `json:"overloaded"`
	LessonsTotal     int       `json:"lessonsTotal"`
	LessonsCompleted int       `json:"lessonsCompleted"`
	LessonsPending   int       `json:"lessonsPending"`
}

// PlanStatisticsResponse aggregates utilization across the horizon.
type PlanStatisticsResponse struct {
	PlanID           string           `json:"planId"`
	Weeks            []WeekStatistics `json:"weeks"`
	UsedMinutes      int              `json:"usedMinutes"`
	AvailableMinutes int              `json:"availableMinutes"`
	PercentUsed      float64          `json:"percentUsed"`
	OverloadedWeeks  int              `json:"overloadedWeeks"`
	LessonsTotal     int              `json:"lessonsTotal"`
	LessonsCompleted int              `json:"lessonsCompleted"`
	LessonsPending   int              `json:"lessonsPending"`
	GeneratedAt      time.Time        `json:"generatedAt"`
}

// PlanSummary is the list-view projection of a plan.
type PlanSummary struct {
	ID          string              `json:"id"`
	CourseID    string              `json:"courseId"`
	StartDate   time.Time           `json:"startDate"`
	EndDate     time.Time           `json:"endDate"`
	Modality    models.PlanModality `json:"modality"`
	DaysPerWeek int                 `json:"daysPerWeek"`
	CreatedAt   time.Time           `json:"createdAt"`
}
