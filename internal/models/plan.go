package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// PlanModality is the interleaving policy for track progression.
type PlanModality string

const (
	// PlanModalityParallel advances every track concurrently in rough
	// proportion to its weight.
	PlanModalityParallel PlanModality = "paralelo"
	// PlanModalitySequential finishes one track before starting the next.
	PlanModalitySequential PlanModality = "sequencial"
)

// Valid reports whether the modality is a known value.
func (m PlanModality) Valid() bool {
	return m == PlanModalityParallel || m == PlanModalitySequential
}

// AllowedPlaybackSpeeds is the closed set of playback-speed multipliers.
var AllowedPlaybackSpeeds = []float64{1.0, 1.25, 1.5, 1.75, 2.0}

// PlaybackSpeedAllowed reports whether the multiplier belongs to the allowed set.
func PlaybackSpeedAllowed(speed float64) bool {
	for _, allowed := range AllowedPlaybackSpeeds {
		if speed == allowed {
			return true
		}
	}
	return false
}

// VacationInterval is a date range excluded from study capacity.
type VacationInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Plan is the aggregate root of a generated study schedule.
type Plan struct {
	ID               string         `db:"id" json:"id"`
	OwnerID          string         `db:"owner_id" json:"owner_id"`
	CourseID         string         `db:"course_id" json:"course_id"`
	StartDate        time.Time      `db:"start_date" json:"start_date"`
	EndDate          time.Time      `db:"end_date" json:"end_date"`
	DailyMinutes     int            `db:"daily_minutes" json:"daily_minutes"`
	DaysPerWeek      int            `db:"days_per_week" json:"days_per_week"`
	PriorityFloor    int            `db:"priority_floor" json:"priority_floor"`
	Modality         PlanModality   `db:"modality" json:"modality"`
	PlaybackSpeed    float64        `db:"playback_speed" json:"playback_speed"`
	ExcludeCompleted bool           `db:"exclude_completed" json:"exclude_completed"`
	DisciplineIDs    pq.StringArray `db:"discipline_ids" json:"discipline_ids,omitempty"`
	ModuleIDs        pq.StringArray `db:"module_ids" json:"module_ids,omitempty"`
	TrackOrder       pq.StringArray `db:"track_order" json:"track_order,omitempty"`
	Vacations        types.JSONText `db:"vacations" json:"vacations"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// PlanWeek is one capacity-bounded bucket of the plan horizon.
// Weeks are 7-day blocks counted from the plan start date, so the first
// week keeps its partial shape instead of snapping to calendar Mondays.
type PlanWeek struct {
	PlanID          string    `db:"plan_id" json:"plan_id"`
	Number          int       `db:"number" json:"number"`
	StartsOn        time.Time `db:"starts_on" json:"starts_on"`
	EndsOn          time.Time `db:"ends_on" json:"ends_on"`
	Vacation        bool      `db:"vacation" json:"vacation"`
	CapacityMinutes int       `db:"capacity_minutes" json:"capacity_minutes"`
	Overloaded      bool      `db:"overloaded" json:"overloaded"`
}

// PlanAssignment maps one lesson to one week slot of a plan.
// For a fixed plan a lesson appears at most once, and the position is
// unique per (plan, week).
type PlanAssignment struct {
	PlanID     string `db:"plan_id" json:"plan_id"`
	LessonID   string `db:"lesson_id" json:"lesson_id"`
	WeekNumber int    `db:"week_number" json:"week_number"`
	Position   int    `db:"position" json:"position"`
}

// PlanAssignmentDetail joins an assignment against the content catalog,
// used by statistics and exports.
type PlanAssignmentDetail struct {
	PlanID          string `db:"plan_id" json:"plan_id"`
	LessonID        string `db:"lesson_id" json:"lesson_id"`
	WeekNumber      int    `db:"week_number" json:"week_number"`
	Position        int    `db:"position" json:"position"`
	LessonName      string `db:"lesson_name" json:"lesson_name"`
	DurationMinutes *int   `db:"duration_minutes" json:"duration_minutes,omitempty"`
	TrackID         string `db:"track_id" json:"track_id"`
	TrackName       string `db:"track_name" json:"track_name"`
	DisciplineID    string `db:"discipline_id" json:"discipline_id"`
	DisciplineName  string `db:"discipline_name" json:"discipline_name"`
}

// PlanWeekDays is the set of weekdays (0=Sunday .. 6=Saturday) the student
// studies; it drives capacity on recalculation.
type PlanWeekDays struct {
	PlanID string        `db:"plan_id" json:"plan_id"`
	Days   pq.Int64Array `db:"days" json:"days"`
}

// PlanFilter captures criteria for listing plans.
type PlanFilter struct {
	OwnerID  string
	CourseID string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// InfeasibleDetails carries the diagnostic numbers attached to a
// TEMPO_INSUFICIENTE rejection so callers can offer a concrete fix.
type InfeasibleDetails struct {
	RequiredMinutes     int     `json:"required_minutes"`
	AvailableMinutes    int     `json:"available_minutes"`
	RequiredHours       float64 `json:"required_hours"`
	AvailableHours      float64 `json:"available_hours"`
	SuggestedDailyHours float64 `json:"suggested_daily_hours"`
}
