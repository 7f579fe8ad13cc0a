package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/aprovamais/studyplan-api/internal/models"
)

// CatalogRepository reads the course content catalog. The catalog is
// owned by the platform's content service and treated as read-only here.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindCourse loads a course by its identifier.
func (r *CatalogRepository) FindCourse(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, name, active, created_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListLessons returns the denormalized lesson rows for a plan scope,
// filtered by priority floor and ordered by (track position, module
// ordinal, lesson ordinal). That ordering is the pedagogical sequence the
// allocator must never permute, so it is fixed here at the source.
func (r *CatalogRepository) ListLessons(ctx context.Context, scope models.CatalogScope) ([]models.Lesson, error) {
	query := `
SELECT l.id, l.module_id, l.name, l.number, l.duration_minutes, l.priority,
       m.name AS module_name, m.number AS module_number,
       t.id AS track_id, t.name AS track_name, t.position AS track_position,
       d.id AS discipline_id, d.name AS discipline_name
FROM lessons l
JOIN course_modules m ON m.id = l.module_id
JOIN tracks t ON t.id = m.track_id
JOIN disciplines d ON d.id = t.discipline_id
WHERE d.course_id = $1
  AND COALESCE(l.priority, 0) >= $2`
	args := []interface{}{scope.CourseID, scope.PriorityFloor}

	if len(scope.DisciplineIDs) > 0 {
		query += fmt.Sprintf(" AND d.id = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(scope.DisciplineIDs))
	}
	if len(scope.ModuleIDs) > 0 {
		query += fmt.Sprintf(" AND m.id = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(scope.ModuleIDs))
	}

	query += `
ORDER BY t.position ASC, t.id ASC, m.number ASC NULLS LAST, m.id ASC, l.number ASC NULLS LAST, l.id ASC`

	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, args...); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// ListCompletedLessonIDs returns the ids of the course lessons the
// student already finished, used to honour exclude-completed scopes and
// to compute completion counts at read time.
func (r *CatalogRepository) ListCompletedLessonIDs(ctx context.Context, studentID, courseID string) ([]string, error) {
	const query = `
SELECT lc.lesson_id
FROM lesson_completions lc
JOIN lessons l ON l.id = lc.lesson_id
JOIN course_modules m ON m.id = l.module_id
JOIN tracks t ON t.id = m.track_id
JOIN disciplines d ON d.id = t.discipline_id
WHERE lc.student_id = $1 AND d.course_id = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list completed lessons: %w", err)
	}
	return ids, nil
}
