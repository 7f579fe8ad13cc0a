package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/internal/service"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
)

type planExporterMock struct {
	capturedPlanID string
	capturedFormat models.ExportFormat
	download       *service.ExportDownload
	err            error
}

func (m *planExporterMock) CreateJob(ctx context.Context, planID string, req dto.CreateExportRequest, actorID string, role models.UserRole) (*dto.ExportJobResponse, error) {
	m.capturedPlanID = planID
	m.capturedFormat = req.Format
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportJobResponse{ID: "job-1", PlanID: planID, Status: models.ExportStatusQueued}, nil
}

func (m *planExporterMock) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ExportStatusResponse{ID: id, Status: models.ExportStatusProcessing, Progress: 50}, nil
}

func (m *planExporterMock) ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.download, nil
}

func TestExportHandlerCreateAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &planExporterMock{}
	handler := &ExportHandler{exports: mockSvc}

	req, _ := http.NewRequest(http.MethodPost, "/plans/plan-1/exports", bytes.NewReader([]byte(`{"format":"pdf"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "plan-1"}}

	handler.Create(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "plan-1", mockSvc.capturedPlanID)
	require.Equal(t, models.ExportFormatPDF, mockSvc.capturedFormat)
}

func TestExportHandlerCreateBadBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ExportHandler{exports: &planExporterMock{}}

	req, _ := http.NewRequest(http.MethodPost, "/plans/plan-1/exports", bytes.NewReader([]byte(`{"format":`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "plan-1"}}

	handler.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportHandlerStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ExportHandler{exports: &planExporterMock{}}

	req, _ := http.NewRequest(http.MethodGet, "/exports/job-1", nil)
	w := httptest.NewRecorder()
	c := studentContext(w, req)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.Status(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "PROCESSING")
}

func TestExportHandlerDownloadStreamsFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "plan.csv")
	require.NoError(t, os.WriteFile(path, []byte("week,lesson\n1,l1\n"), 0o644))
	file, err := os.Open(path)
	require.NoError(t, err)

	handler := &ExportHandler{exports: &planExporterMock{download: &service.ExportDownload{
		File:     file,
		Filename: "plan.csv",
		Format:   models.ExportFormatCSV,
	}}}

	req, _ := http.NewRequest(http.MethodGet, "/exports/download/tok", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "tok"}}

	handler.Download(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "plan.csv")
	require.Contains(t, w.Body.String(), "week,lesson")
}

func TestExportHandlerDownloadBadToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &ExportHandler{exports: &planExporterMock{err: appErrors.ErrForbidden}}

	req, _ := http.NewRequest(http.MethodGet, "/exports/download/bad", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	handler.Download(c)

	require.Equal(t, http.StatusForbidden, w.Code)
}
