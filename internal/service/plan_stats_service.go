package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/pkg/config"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

const planStatsCachePrefix = "studyplan:stats:"

type completionReader interface {
	ListCompletedLessonIDs(ctx context.Context, studentID, courseID string) ([]string, error)
}

type planFinder interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type planWeekReader interface {
	ListByPlan(ctx context.Context, planID string) ([]models.PlanWeek, error)
}

type planAssignmentReader interface {
	ListDetailedByPlan(ctx context.Context, planID string) ([]models.PlanAssignmentDetail, error)
}

// PlanStatsService computes per-week and aggregate utilization for stored
// plans. Readings are advisory: they are cached with a short TTL and the
// cache is invalidated on plan mutation, but a concurrent recalculation may
// still produce a briefly stale view.
type PlanStatsService struct {
	plans       planFinder
	weeks       planWeekReader
	assignments planAssignmentReader
	completions completionReader
	cache       *CacheService
	logger      *zap.Logger
	planner     config.PlannerConfig
	cacheTTL    time.Duration
}

// NewPlanStatsService wires the statistics dependencies.
func NewPlanStatsService(
	plans planFinder,
	weeks planWeekReader,
	assignments planAssignmentReader,
	completions completionReader,
	cache *CacheService,
	logger *zap.Logger,
	planner config.PlannerConfig,
	statsCfg config.StatisticsConfig,
) *PlanStatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if planner.DefaultLessonMinutes <= 0 {
		planner.DefaultLessonMinutes = 30
	}
	if planner.MinEffectiveMinutes <= 0 {
		planner.MinEffectiveMinutes = 5
	}
	ttl := statsCfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PlanStatsService{
		plans:       plans,
		weeks:       weeks,
		assignments: assignments,
		completions: completions,
		cache:       cache,
		logger:      logger,
		planner:     planner,
		cacheTTL:    ttl,
	}
}

// GetStatistics returns utilization for a plan. Students only read their own
// plans; admins read any.
func (s *PlanStatsService) GetStatistics(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanStatisticsResponse, error) {
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

	cacheKey := planStatsCachePrefix + planID
	var cached dto.PlanStatisticsResponse
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	stats, err := s.compute(ctx, plan)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, stats, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache plan statistics", zap.String("plan_id", planID), zap.Error(err))
	}
	return stats, nil
}

// InvalidatePlan drops cached statistics for a plan after a mutation.
func (s *PlanStatsService) InvalidatePlan(ctx context.Context, planID string) {
	if err := s.cache.Invalidate(ctx, planStatsCachePrefix+planID); err != nil {
		s.logger.Warn("failed to invalidate plan statistics cache", zap.String("plan_id", planID), zap.Error(err))
	}
}

func (s *PlanStatsService) compute(ctx context.Context, plan *models.Plan) (*dto.PlanStatisticsResponse, error) {
	weeks, err := s.weeks.ListByPlan(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan weeks")
	}
	details, err := s.assignments.ListDetailedByPlan(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignments")
	}

	completed := map[string]bool{}
	if s.completions != nil {
		ids, err := s.completions.ListCompletedLessonIDs(ctx, plan.OwnerID, plan.CourseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson completions")
		}
		for _, id := range ids {
			completed[id] = true
		}
	}

	used := usedMinutesFromDetails(details, plan.PlaybackSpeed, s.planner)
	lessonsByWeek := make(map[int]int, len(weeks))
	completedByWeek := make(map[int]int, len(weeks))
	for _, detail := range details {
		lessonsByWeek[detail.WeekNumber]++
		if completed[detail.LessonID] {
			completedByWeek[detail.WeekNumber]++
		}
	}

	stats := &dto.PlanStatisticsResponse{
		PlanID:      plan.ID,
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

		stats.Weeks = append(stats.Weeks, dto.WeekStatistics{
			WeekNumber:       week.Number,
			StartsOn:         week.StartsOn,
			EndsOn:           week.EndsOn,
			Vacation:         week.Vacation,
			UsedMinutes:      usedMinutes,
			AvailableMinutes: week.CapacityMinutes,
			PercentUsed:      percent,
			Overloaded:       week.Overloaded,
			LessonsTotal:     total,
			LessonsCompleted: done,
			LessonsPending:   total - done,
		})

		stats.UsedMinutes += usedMinutes
		stats.AvailableMinutes += week.CapacityMinutes
		stats.LessonsTotal += total
		stats.LessonsCompleted += done
		if week.Overloaded {
			stats.OverloadedWeeks++
		}
	}
	stats.LessonsPending = stats.LessonsTotal - stats.LessonsCompleted
	if stats.AvailableMinutes > 0 {
		stats.PercentUsed = math.Round(float64(stats.UsedMinutes)/float64(stats.AvailableMinutes)*1000) / 10
	}
	return stats, nil
}
