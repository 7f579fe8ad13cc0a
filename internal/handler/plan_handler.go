package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/internal/service"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
	"github.com/aprovamais/studyplan-api/pkg/response"
)

type planGenerator interface {
	Generate(ctx context.Context, ownerID string, req dto.GeneratePlanRequest) (*dto.GeneratePlanResponse, error)
}

type planManager interface {
	Get(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanResponse, error)
	List(ctx context.Context, ownerID string, filter models.PlanFilter) ([]dto.PlanSummary, *models.Pagination, error)
	Delete(ctx context.Context, planID, userID string, role models.UserRole) error
	UpdateWeekDays(ctx context.Context, planID, userID string, role models.UserRole, req dto.UpdateWeekDaysRequest) (*dto.UpdateWeekDaysResponse, error)
}

type planStatsReader interface {
	GetStatistics(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanStatisticsResponse, error)
}

// PlanHandler exposes the study-plan endpoints.
type PlanHandler struct {
	generator planGenerator
	plans     planManager
	stats     planStatsReader
}

// NewPlanHandler constructs handler.
func NewPlanHandler(generator *service.PlanGeneratorService, plans *service.PlanService, stats *service.PlanStatsService) *PlanHandler {
	return &PlanHandler{generator: generator, plans: plans, stats: stats}
}

// Generate godoc
// @Summary Generate a study plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.GeneratePlanRequest true "Generation parameters"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /plans [post]
func (h *PlanHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.GeneratePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List own study plans
// @Tags Plans
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param courseId query string false "Filter by course"
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	filter := models.PlanFilter{
		CourseID: c.Query("courseId"),
		Page:     page,
		PageSize: pageSize,
	}
	plans, pagination, err := h.plans.List(c.Request.Context(), claims.UserID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, pagination)
}

// Get godoc
// @Summary Plan detail with weeks and assignments
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Delete godoc
// @Summary Delete a plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 204 {object} nil
// @Failure 404 {object} response.Envelope
// @Router /plans/{id} [delete]
func (h *PlanHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.plans.Delete(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateWeekDays godoc
// @Summary Change the weekly day pattern of a plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.UpdateWeekDaysRequest true "New day pattern"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /plans/{id}/week-days [put]
func (h *PlanHandler) UpdateWeekDays(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateWeekDaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	result, err := h.plans.UpdateWeekDays(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Statistics godoc
// @Summary Per-week and aggregate plan utilization
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /plans/{id}/statistics [get]
func (h *PlanHandler) Statistics(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.stats.GetStatistics(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
