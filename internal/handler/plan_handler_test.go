package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/dto"
	internalmiddleware "github.com/aprovamais/studyplan-api/internal/middleware"
	"github.com/aprovamais/studyplan-api/internal/models"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

type planGeneratorMock struct {
	captured dto.GeneratePlanRequest
	ownerID  string
	err      error
}

func (m *planGeneratorMock) Generate(ctx context.Context, ownerID string, req dto.GeneratePlanRequest) (*dto.GeneratePlanResponse, error) {
	m.ownerID = ownerID
	m.captured = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GeneratePlanResponse{Plan: dto.PlanResponse{Plan: models.Plan{ID: "plan-1"}}}, nil
}

type planManagerMock struct {
	filter models.PlanFilter
	err    error
}

func (m *planManagerMock) Get(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.PlanResponse{Plan: models.Plan{ID: planID}}, nil
}

func (m *planManagerMock) List(ctx context.Context, ownerID string, filter models.PlanFilter) ([]dto.PlanSummary, *models.Pagination, error) {
	m.filter = filter
	return []dto.PlanSummary{{ID: "plan-1"}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *planManagerMock) Delete(ctx context.Context, planID, userID string, role models.UserRole) error {
	return m.err
}

func (m *planManagerMock) UpdateWeekDays(ctx context.Context, planID, userID string, role models.UserRole, req dto.UpdateWeekDaysRequest) (*dto.UpdateWeekDaysResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.UpdateWeekDaysResponse{PlanID: planID, DaysPerWeek: len(req.WeekDays)}, nil
}

type planStatsMock struct{}

func (m *planStatsMock) GetStatistics(ctx context.Context, planID, userID string, role models.UserRole) (*dto.PlanStatisticsResponse, error) {
	return &dto.PlanStatisticsResponse{PlanID: planID}, nil
}

func studentContext(w *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
	return c
}

func validGeneratePayload() []byte {
	return []byte(`{"courseId":"course-1","startDate":"2026-01-05","endDate":"2026-03-01","dailyMinutes":120,"daysPerWeek":5,"modality":"paralelo"}`)
}

func TestPlanHandlerGenerateSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &planGeneratorMock{}
	handler := &PlanHandler{generator: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/plans", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)

	handler.Generate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "student-1", mockSvc.ownerID)
	require.Equal(t, "course-1", mockSvc.captured.CourseID)
	require.Equal(t, "paralelo", mockSvc.captured.Modality)
}

func TestPlanHandlerGenerateBadBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{generator: &planGeneratorMock{}}

	req, _ := http.NewRequest(http.MethodPost, "/plans", bytes.NewReader([]byte(`{"courseId":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)

	handler.Generate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanHandlerGenerateInfeasible(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &planGeneratorMock{err: appErrors.ErrInfeasible}
	handler := &PlanHandler{generator: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/plans", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)

	handler.Generate(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPlanHandlerGenerateUnauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{generator: &planGeneratorMock{}}
	router := gin.New()
	router.POST("/plans", internalmiddleware.RBAC(string(models.RoleStudent)), handler.Generate)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/plans", bytes.NewReader(validGeneratePayload()))
	req.Header.Set("Content-Type", "application/json")

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlanHandlerListParsesPaging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &planManagerMock{}
	handler := &PlanHandler{plans: mockSvc}

	req, _ := http.NewRequest(http.MethodGet, "/plans?page=3&pageSize=5&courseId=course-1", nil)
	w := httptest.NewRecorder()
	c := studentContext(w, req)

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 3, mockSvc.filter.Page)
	require.Equal(t, 5, mockSvc.filter.PageSize)
	require.Equal(t, "course-1", mockSvc.filter.CourseID)
}

func TestPlanHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{plans: &planManagerMock{err: appErrors.ErrNotFound}}

	req, _ := http.NewRequest(http.MethodGet, "/plans/missing", nil)
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlanHandlerDeleteNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{plans: &planManagerMock{}}

	req, _ := http.NewRequest(http.MethodDelete, "/plans/plan-1", nil)
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "plan-1"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestPlanHandlerUpdateWeekDaysConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{plans: &planManagerMock{err: appErrors.ErrConflict}}

	req, _ := http.NewRequest(http.MethodPut, "/plans/plan-1/week-days", bytes.NewReader([]byte(`{"weekDays":[1,3,5]}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "plan-1"}}

	handler.UpdateWeekDays(c)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestPlanHandlerStatistics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &PlanHandler{stats: &planStatsMock{}}

	req, _ := http.NewRequest(http.MethodGet, "/plans/plan-1/statistics", nil)
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "plan-1"}}

	handler.Statistics(c)

	require.Equal(t, http.StatusOK, w.Code)
}
