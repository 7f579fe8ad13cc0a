package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/pkg/config"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

type catalogReader interface {
	FindCourse(ctx context.Context, id string) (*models.Course, error)
	ListLessons(ctx context.Context, scope models.CatalogScope) ([]models.Lesson, error)
	ListCompletedLessonIDs(ctx context.Context, studentID, courseID string) ([]string, error)
}

type planWriter interface {
	TryLockOwner(ctx context.Context, exec sqlx.ExtContext, ownerID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, plan *models.Plan) error
}

type planWeekWriter interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, weeks []models.PlanWeek) error
	UpsertWeekDays(ctx context.Context, exec sqlx.ExtContext, pattern models.PlanWeekDays) error
}

type planAssignmentWriter interface {
	InsertBatch(ctx context.Context, exec sqlx.ExtContext, assignments []models.PlanAssignment) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type plannerMetricsRecorder interface {
	RecordPlanGeneration(modality string, duration time.Duration, lessonsPlaced int)
	RecordInfeasibleRejection()
}

// PlanGeneratorService runs the full generation pipeline: collect, aggregate,
// check feasibility, allocate and atomically persist.
type PlanGeneratorService struct {
	catalog     catalogReader
	plans       planWriter
	weeks       planWeekWriter
	assignments planAssignmentWriter
	tx          txProvider
	metrics     plannerMetricsRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.PlannerConfig
}

// NewPlanGeneratorService wires the generator dependencies.
func NewPlanGeneratorService(
	catalog catalogReader,
	plans planWriter,
	weeks planWeekWriter,
	assignments planAssignmentWriter,
	tx txProvider,
	metrics plannerMetricsRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.PlannerConfig,
) *PlanGeneratorService {
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
	if cfg.MaxHorizonWeeks <= 0 {
		cfg.MaxHorizonWeeks = 160
	}
	return &PlanGeneratorService{
		catalog:     catalog,
		plans:       plans,
		weeks:       weeks,
		assignments: assignments,
		tx:          tx,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

const planDateLayout = "2006-01-02"

// Generate builds and persists a plan for the owner. The whole write (plan
// header, weeks, day pattern, assignments) happens in one transaction guarded
// by a per-owner advisory lock, so a second concurrent generation for the
// same student gets a conflict instead of a torn plan.
func (s *PlanGeneratorService) Generate(ctx context.Context, ownerID string, req dto.GeneratePlanRequest) (*dto.GeneratePlanResponse, error) {
	started := time.Now()

	if ownerID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "owner id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan generation payload")
	}

	input, err := s.normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.catalog.FindCourse(ctx, input.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	items, err := s.collectLessons(ctx, ownerID, input)
	if err != nil {
		return nil, err
	}

	weeks := buildPlanWeeks(input.StartDate, input.EndDate, input.Vacations, input.DailyMinutes, input.DaysPerWeek)
	tracks := buildTracks(items)

	if details := checkFeasibility(weeks, tracks, input.DaysPerWeek); details != nil {
		if s.metrics != nil {
			s.metrics.RecordInfeasibleRejection()
		}
		return nil, appErrors.WithDetails(appErrors.ErrInfeasible, details)
	}

	placements := allocate(weeks, tracks, input.Modality, input.TrackOrder)
	sortPlacements(placements)

	used := usedMinutesByWeek(placements)
	for i := range weeks {
		if !weeks[i].Vacation && used[weeks[i].Number] > weeks[i].CapacityMinutes {
			weeks[i] = markOverloaded(weeks[i])
		}
	}

	plan, err := s.persist(ctx, ownerID, input, weeks, placements)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordPlanGeneration(string(input.Modality), time.Since(started), len(placements))
	}
	s.logger.Info("plan generated",
		zap.String("plan_id", plan.ID),
		zap.String("owner_id", ownerID),
		zap.String("modality", string(input.Modality)),
		zap.Int("lessons_placed", len(placements)),
		zap.Int("weeks", len(weeks)),
	)

	resp := &dto.GeneratePlanResponse{
		Plan:       buildPlanResponse(plan, input.WeekDays, weeks, placements, overloadedSet(weeks, used)),
		Statistics: buildStatistics(plan.ID, weeks, used, placements, nil),
	}
	return resp, nil
}

// generationInput is the fully-parsed, defaulted form of the request.
type generationInput struct {
	CourseID         string
	StartDate        time.Time
	EndDate          time.Time
	DailyMinutes     int
	DaysPerWeek      int
	WeekDays         []int
	PriorityFloor    int
	Modality         models.PlanModality
	PlaybackSpeed    float64
	ExcludeCompleted bool
	Vacations        []models.VacationInterval
	DisciplineIDs    []string
	ModuleIDs        []string
	TrackOrder       []string
}

func (s *PlanGeneratorService) normalizeRequest(req dto.GeneratePlanRequest) (*generationInput, error) {
	start, err := time.Parse(planDateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse(planDateLayout, req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not precede startDate")
	}
	if count := horizonWeekCount(start, end); count > s.cfg.MaxHorizonWeeks {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range spans %d weeks, maximum is %d", count, s.cfg.MaxHorizonWeeks))
	}

	modality := models.PlanModality(req.Modality)
	if !modality.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "modality must be paralelo or sequencial")
	}

	speed := req.PlaybackSpeed
	if speed == 0 {
		speed = 1.0
	}
	if !models.PlaybackSpeedAllowed(speed) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "playbackSpeed is not in the allowed set")
	}

	weekDays, err := normalizeWeekDays(req.WeekDays, req.DaysPerWeek)
	if err != nil {
		return nil, err
	}

	vacations := make([]models.VacationInterval, 0, len(req.Vacations))
	for _, period := range req.Vacations {
		vStart, err := time.Parse(planDateLayout, period.Start)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "vacation start must be YYYY-MM-DD")
		}
		vEnd, err := time.Parse(planDateLayout, period.End)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "vacation end must be YYYY-MM-DD")
		}
		if vEnd.Before(vStart) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "vacation end must not precede its start")
		}
		vacations = append(vacations, models.VacationInterval{Start: vStart, End: vEnd})
	}

	floor := req.PriorityFloor
	if floor <= 0 {
		floor = 1
	}

	excludeCompleted := true
	if req.ExcludeCompleted != nil {
		excludeCompleted = *req.ExcludeCompleted
	}

	return &generationInput{
		CourseID:         req.CourseID,
		StartDate:        dateOnly(start),
		EndDate:          dateOnly(end),
		DailyMinutes:     req.DailyMinutes,
		DaysPerWeek:      req.DaysPerWeek,
		WeekDays:         weekDays,
		PriorityFloor:    floor,
		Modality:         modality,
		PlaybackSpeed:    speed,
		ExcludeCompleted: excludeCompleted,
		Vacations:        vacations,
		DisciplineIDs:    req.DisciplineIDs,
		ModuleIDs:        req.ModuleIDs,
		TrackOrder:       req.TrackOrder,
	}, nil
}

// normalizeWeekDays validates an explicit day pattern or derives the default
// one: the first N weekdays counted from Monday, wrapping to Sunday last.
func normalizeWeekDays(days []int, daysPerWeek int) ([]int, error) {
	if len(days) == 0 {
		defaults := []int{1, 2, 3, 4, 5, 6, 0}
		derived := append([]int(nil), defaults[:daysPerWeek]...)
		sort.Ints(derived)
		return derived, nil
	}

	seen := make(map[int]bool, len(days))
	unique := make([]int, 0, len(days))
	for _, day := range days {
		if day < 0 || day > 6 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "weekDays entries must be between 0 (Sunday) and 6 (Saturday)")
		}
		if seen[day] {
			continue
		}
		seen[day] = true
		unique = append(unique, day)
	}
	if len(unique) != daysPerWeek {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weekDays lists %d distinct days but daysPerWeek is %d", len(unique), daysPerWeek))
	}
	sort.Ints(unique)
	return unique, nil
}

// collectLessons fetches the scoped catalog and resolves every nullable
// value once, so downstream stages only see concrete minutes. Effective cost
// is the catalog estimate divided by the playback speed, rounded and clamped
// to the minimum granularity. An empty selection is not an error; it flows
// through feasibility as trivially satisfiable.
func (s *PlanGeneratorService) collectLessons(ctx context.Context, ownerID string, input *generationInput) ([]lessonItem, error) {
	scope := models.CatalogScope{
		CourseID:      input.CourseID,
		DisciplineIDs: input.DisciplineIDs,
		ModuleIDs:     input.ModuleIDs,
		PriorityFloor: input.PriorityFloor,
	}
	lessons, err := s.catalog.ListLessons(ctx, scope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect lessons")
	}

	completed := map[string]bool{}
	if input.ExcludeCompleted {
		ids, err := s.catalog.ListCompletedLessonIDs(ctx, ownerID, input.CourseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson completions")
		}
		for _, id := range ids {
			completed[id] = true
		}
	}

	items := make([]lessonItem, 0, len(lessons))
	for _, lesson := range lessons {
		if completed[lesson.ID] {
			continue
		}
		minutes := s.cfg.DefaultLessonMinutes
		if lesson.DurationMinutes != nil && *lesson.DurationMinutes > 0 {
			minutes = *lesson.DurationMinutes
		}
		effective := int(math.Round(float64(minutes) / input.PlaybackSpeed))
		if effective < s.cfg.MinEffectiveMinutes {
			effective = s.cfg.MinEffectiveMinutes
		}
		items = append(items, lessonItem{
			ID:             lesson.ID,
			Name:           lesson.Name,
			TrackID:        lesson.TrackID,
			TrackName:      lesson.TrackName,
			DisciplineID:   lesson.DisciplineID,
			DisciplineName: lesson.DisciplineName,
			Minutes:        effective,
		})
	}
	return items, nil
}

// persist writes the full aggregate in one transaction under the per-owner
// advisory lock.
func (s *PlanGeneratorService) persist(ctx context.Context, ownerID string, input *generationInput, weeks []planWeek, placements []placement) (*models.Plan, error) {
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
	locked, err = s.plans.TryLockOwner(ctx, tx, ownerID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire owner lock")
		return nil, err
	}
	if !locked {
		err = appErrors.Clone(appErrors.ErrConflict, "another plan generation is already in progress for this student")
		return nil, err
	}

	vacationsJSON, marshalErr := json.Marshal(input.Vacations)
	if marshalErr != nil {
		err = appErrors.Wrap(marshalErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode vacation periods")
		return nil, err
	}

	plan := &models.Plan{
		OwnerID:          ownerID,
		CourseID:         input.CourseID,
		StartDate:        input.StartDate,
		EndDate:          input.EndDate,
		DailyMinutes:     input.DailyMinutes,
		DaysPerWeek:      input.DaysPerWeek,
		PriorityFloor:    input.PriorityFloor,
		Modality:         input.Modality,
		PlaybackSpeed:    input.PlaybackSpeed,
		ExcludeCompleted: input.ExcludeCompleted,
		DisciplineIDs:    input.DisciplineIDs,
		ModuleIDs:        input.ModuleIDs,
		TrackOrder:       input.TrackOrder,
		Vacations:        types.JSONText(vacationsJSON),
	}
	if err = s.plans.Create(ctx, tx, plan); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
		return nil, err
	}

	weekModels := make([]models.PlanWeek, 0, len(weeks))
	for _, week := range weeks {
		weekModels = append(weekModels, models.PlanWeek{
			PlanID:          plan.ID,
			Number:          week.Number,
			StartsOn:        week.StartsOn,
			EndsOn:          week.EndsOn,
			Vacation:        week.Vacation,
			CapacityMinutes: week.CapacityMinutes,
			Overloaded:      week.Overloaded,
		})
	}
	if err = s.weeks.InsertBatch(ctx, tx, weekModels); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist plan weeks")
		return nil, err
	}

	pattern := models.PlanWeekDays{PlanID: plan.ID, Days: toInt64Array(input.WeekDays)}
	if err = s.weeks.UpsertWeekDays(ctx, tx, pattern); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist day pattern")
		return nil, err
	}

	assignmentModels := make([]models.PlanAssignment, 0, len(placements))
	for _, p := range placements {
		assignmentModels = append(assignmentModels, models.PlanAssignment{
			PlanID:     plan.ID,
			LessonID:   p.Lesson.ID,
			WeekNumber: p.WeekNumber,
			Position:   p.Position,
		})
	}
	if err = s.assignments.InsertBatch(ctx, tx, assignmentModels); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist assignments")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit plan transaction")
		return nil, err
	}
	return plan, nil
}

func toInt64Array(values []int) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(values))
	for _, v := range values {
		out = append(out, int64(v))
	}
	return out
}

func markOverloaded(week planWeek) planWeek {
	week.Overloaded = true
	return week
}

func overloadedSet(weeks []planWeek, used map[int]int) map[int]bool {
	set := make(map[int]bool, len(weeks))
	for _, week := range weeks {
		if !week.Vacation && used[week.Number] > week.CapacityMinutes {
			set[week.Number] = true
		}
	}
	return set
}

// buildPlanResponse projects the freshly-generated aggregate into the API
// shape without a round trip to the database.
func buildPlanResponse(plan *models.Plan, weekDays []int, weeks []planWeek, placements []placement, overloaded map[int]bool) dto.PlanResponse {
	weekResponses := make([]dto.PlanWeekResponse, 0, len(weeks))
	for _, week := range weeks {
		weekResponses = append(weekResponses, dto.PlanWeekResponse{
			Number:          week.Number,
			StartsOn:        week.StartsOn,
			EndsOn:          week.EndsOn,
			Vacation:        week.Vacation,
			CapacityMinutes: week.CapacityMinutes,
			Overloaded:      overloaded[week.Number],
		})
	}

	assignmentResponses := make([]dto.PlanAssignmentResponse, 0, len(placements))
	for _, p := range placements {
		assignmentResponses = append(assignmentResponses, dto.PlanAssignmentResponse{
			LessonID:   p.Lesson.ID,
			LessonName: p.Lesson.Name,
			TrackID:    p.Lesson.TrackID,
			TrackName:  p.Lesson.TrackName,
			WeekNumber: p.WeekNumber,
			Position:   p.Position,
			Minutes:    p.Lesson.Minutes,
		})
	}

	return dto.PlanResponse{
		Plan:        *plan,
		WeekDays:    weekDays,
		Weeks:       weekResponses,
		Assignments: assignmentResponses,
	}
}

// buildStatistics folds placements into per-week and aggregate utilization.
// Vacation weeks report zero use against zero capacity. The completed set is
// nil at generation time (completed lessons were excluded or intentionally
// included) and populated on statistics reads.
func buildStatistics(planID string, weeks []planWeek, used map[int]int, placements []placement, completed map[string]bool) dto.PlanStatisticsResponse {
	lessonsByWeek := make(map[int]int, len(weeks))
	completedByWeek := make(map[int]int, len(weeks))
	for _, p := range placements {
		lessonsByWeek[p.WeekNumber]++
		if completed[p.Lesson.ID] {
			completedByWeek[p.WeekNumber]++
		}
	}

	stats := dto.PlanStatisticsResponse{
		PlanID:      planID,
		Weeks:       make([]dto.WeekStatistics, 0, len(weeks)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, week := range weeks {
		usedMinutes := used[week.Number]
		percent := 0.0
		if week.CapacityMinutes > 0 {
			percent = math.Round(float64(usedMinutes)/float64(week.CapacityMinutes)*1000) / 10
		}
		total := lessonsByWeek[week.Number]
		done := completedByWeek[week.Number]
		overloaded := !week.Vacation && usedMinutes > week.CapacityMinutes

		stats.Weeks = append(stats.Weeks, dto.WeekStatistics{
			WeekNumber:       week.Number,
			StartsOn:         week.StartsOn,
			EndsOn:           week.EndsOn,
			Vacation:         week.Vacation,
			UsedMinutes:      usedMinutes,
			AvailableMinutes: week.CapacityMinutes,
			PercentUsed:      percent,
			Overloaded:       overloaded,
			LessonsTotal:     total,
			LessonsCompleted: done,
			LessonsPending:   total - done,
		})

		stats.UsedMinutes += usedMinutes
		stats.AvailableMinutes += week.CapacityMinutes
		stats.LessonsTotal += total
		stats.LessonsCompleted += done
		if overloaded {
			stats.OverloadedWeeks++
		}
	}
	stats.LessonsPending = stats.LessonsTotal - stats.LessonsCompleted
	if stats.AvailableMinutes > 0 {
		stats.PercentUsed = math.Round(float64(stats.UsedMinutes)/float64(stats.AvailableMinutes)*1000) / 10
	}
	return stats
}
