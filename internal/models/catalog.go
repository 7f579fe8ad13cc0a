package models

import "time"

// Course is the top-level content scope a plan is generated against.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Discipline groups tracks inside a course.
type Discipline struct {
	ID       string `db:"id" json:"id"`
	CourseID string `db:"course_id" json:"course_id"`
	Name     string `db:"name" json:"name"`
	Position int    `db:"position" json:"position"`
}

// Track (frente) is a content thread within a discipline. Its lesson
// order is pedagogical and immutable input to the allocator.
type Track struct {
	ID           string `db:"id" json:"id"`
	DisciplineID string `db:"discipline_id" json:"discipline_id"`
	Name         string `db:"name" json:"name"`
	Position     int    `db:"position" json:"position"`
}

// CourseModule is an ordered block of lessons inside a track.
type CourseModule struct {
	ID      string `db:"id" json:"id"`
	TrackID string `db:"track_id" json:"track_id"`
	Name    string `db:"name" json:"name"`
	Number  *int   `db:"number" json:"number,omitempty"`
}

// Lesson is the smallest schedulable content unit. Duration and priority
// come from the catalog as nullable columns and are resolved once at the
// collector boundary.
type Lesson struct {
	ID              string `db:"id" json:"id"`
	ModuleID        string `db:"module_id" json:"module_id"`
	Name            string `db:"name" json:"name"`
	Number          *int   `db:"number" json:"number,omitempty"`
	DurationMinutes *int   `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Priority        *int   `db:"priority" json:"priority,omitempty"`

	// Denormalized ancestry for grouping and reporting.
	ModuleName     string `db:"module_name" json:"module_name"`
	ModuleNumber   *int   `db:"module_number" json:"module_number,omitempty"`
	TrackID        string `db:"track_id" json:"track_id"`
	TrackName      string `db:"track_name" json:"track_name"`
	TrackPosition  int    `db:"track_position" json:"track_position"`
	DisciplineID   string `db:"discipline_id" json:"discipline_id"`
	DisciplineName string `db:"discipline_name" json:"discipline_name"`
}

// LessonCompletion records that a student finished a lesson.
type LessonCompletion struct {
	StudentID   string    `db:"student_id" json:"student_id"`
	LessonID    string    `db:"lesson_id" json:"lesson_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}

// CatalogScope narrows lesson collection for a plan.
type CatalogScope struct {
	CourseID      string
	DisciplineIDs []string
	ModuleIDs     []string
	PriorityFloor int
}
