package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aprovamais/studyplan-api/internal/dto"
	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/internal/repository"
	"github.com/aprovamais/studyplan-api/pkg/config"
	appErrors "github.com/aprovamais/studyplan-api/pkg/errors"
	"github.com/aprovamais/studyplan-api/pkg/jobs"
	"github.com/aprovamais/studyplan-api/pkg/storage"
)

func TestPlanExportServiceCreateJobQueues(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})

	resp, err := fixture.service.CreateJob(context.Background(), "plan-1", dto.CreateExportRequest{Format: models.ExportFormatCSV}, "student-1", models.RoleStudent)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, fixture.queue.enqueued, 1)
	assert.Equal(t, resp.ID, fixture.queue.enqueued[0].ID)
	assert.Equal(t, "csv", fixture.queue.enqueued[0].Type)
}

func TestPlanExportServiceCreateJobRejectsUnknownFormat(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})

	_, err := fixture.service.CreateJob(context.Background(), "plan-1", dto.CreateExportRequest{Format: "xlsx"}, "student-1", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPlanExportServiceCreateJobForbiddenForOtherStudent(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})

	_, err := fixture.service.CreateJob(context.Background(), "plan-1", dto.CreateExportRequest{Format: models.ExportFormatCSV}, "intruder", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanExportServiceCreateJobMarksFailedWhenQueueFull(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{queueFull: true})

	_, err := fixture.service.CreateJob(context.Background(), "plan-1", dto.CreateExportRequest{Format: models.ExportFormatCSV}, "student-1", models.RoleStudent)
	require.Error(t, err)

	require.Len(t, fixture.repo.jobs, 1)
	for _, job := range fixture.repo.jobs {
		assert.Equal(t, models.ExportStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
	}
}

func TestPlanExportServiceGetStatusEnforcesOwnership(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	resp, err := fixture.service.CreateJob(context.Background(), "plan-1", dto.CreateExportRequest{Format: models.ExportFormatCSV}, "student-1", models.RoleStudent)
	require.NoError(t, err)

	_, err = fixture.service.GetStatus(context.Background(), resp.ID, "intruder", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	status, err := fixture.service.GetStatus(context.Background(), resp.ID, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, status.Status)
}

func TestExportWorkerHandleFinishesJob(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	job := fixture.seedJob(models.ExportFormatCSV)
	worker := NewExportWorker(fixture.repo, fixture.exporter, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Type: "csv"})
	require.NoError(t, err)

	stored := fixture.repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.Contains(t, *stored.ResultURL, "/exports/download/")
	require.NotNil(t, stored.FinishedAt)
}

func TestExportWorkerHandleRequeuesBeforeMaxRetries(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	job := fixture.seedJob(models.ExportFormatCSV)
	worker := NewExportWorker(fixture.repo, failingGenerator{}, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1})
	require.Error(t, err)

	stored := fixture.repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusQueued, stored.Status)
	assert.Zero(t, stored.Progress)
	require.NotNil(t, stored.ErrorMessage)
}

func TestExportWorkerHandleFailsAtMaxRetries(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	job := fixture.seedJob(models.ExportFormatCSV)
	worker := NewExportWorker(fixture.repo, failingGenerator{}, nil, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 3})
	require.Error(t, err)

	stored := fixture.repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusFailed, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.FinishedAt)
}

func TestPlanExportServiceResolveDownload(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	job := fixture.seedJob(models.ExportFormatCSV)
	worker := NewExportWorker(fixture.repo, fixture.exporter, nil, 3, nil)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID}))

	stored := fixture.repo.jobs[job.ID]
	require.NotNil(t, stored.ResultURL)
	token := (*stored.ResultURL)[strings.LastIndex(*stored.ResultURL, "/")+1:]

	download, err := fixture.service.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()

	assert.Equal(t, models.ExportFormatCSV, download.Format)
	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "lesson l1")
	assert.Contains(t, string(content), "(vacation)")
}

func TestPlanExportServiceResolveDownloadRejectsBadToken(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})

	_, err := fixture.service.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanExportServiceResolveDownloadRequiresFinishedJob(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	job := fixture.seedJob(models.ExportFormatCSV)

	result, err := fixture.exporter.Generate(context.Background(), fixture.repo.jobs[job.ID])
	require.NoError(t, err)
	url := result.URL
	fixture.repo.jobs[job.ID].ResultURL = &url

	_, err = fixture.service.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanExportServiceRecoverPendingJobs(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	fixture.seedJob(models.ExportFormatCSV)
	fixture.seedJob(models.ExportFormatPDF)

	fixture.service.RecoverPendingJobs(context.Background())
	assert.Len(t, fixture.queue.enqueued, 2)
}

func TestPlanExportServiceCleanupMarksBatchesExpired(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	finishedAt := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 120; i++ {
		job := fixture.seedJob(models.ExportFormatCSV)
		stored := fixture.repo.jobs[job.ID]
		stored.Status = models.ExportStatusFinished
		stored.FinishedAt = &finishedAt
	}

	fixture.service.cleanupExpired(context.Background())

	for _, job := range fixture.repo.jobs {
		assert.Equal(t, models.ExportStatusExpired, job.Status)
	}
	// 100-row first page, 20-row second page. A FINISHED row left behind
	// would be listed again on every call.
	assert.Equal(t, 2, fixture.repo.listFinishedCalls)
}

func TestPlanExportServiceCleanupDeletesArtifactAndKeepsFreshJobs(t *testing.T) {
	fixture := newExportFixture(t, exportFixtureConfig{})
	worker := NewExportWorker(fixture.repo, fixture.exporter, nil, 3, nil)

	stale := fixture.seedJob(models.ExportFormatCSV)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: stale.ID}))
	staleAt := time.Now().Add(-2 * time.Hour)
	fixture.repo.jobs[stale.ID].FinishedAt = &staleAt

	fresh := fixture.seedJob(models.ExportFormatCSV)
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: fresh.ID}))

	fixture.service.cleanupExpired(context.Background())

	assert.Equal(t, models.ExportStatusExpired, fixture.repo.jobs[stale.ID].Status)
	assert.Equal(t, models.ExportStatusFinished, fixture.repo.jobs[fresh.ID].Status)

	staleToken := extractToken(*fixture.repo.jobs[stale.ID].ResultURL)
	_, err := fixture.service.ResolveDownload(context.Background(), staleToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	freshToken := extractToken(*fixture.repo.jobs[fresh.ID].ResultURL)
	download, err := fixture.service.ResolveDownload(context.Background(), freshToken)
	require.NoError(t, err)
	download.File.Close()
}

// --- Fixtures ---

type exportFixtureConfig struct {
	queueFull bool
}

type exportFixture struct {
	service  *PlanExportService
	exporter *ExportService
	repo     *exportJobStoreStub
	queue    *dispatcherStub
}

func newExportFixture(t *testing.T, cfg exportFixtureConfig) *exportFixture {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	weeks := fixedWeekReader{weeks: []models.PlanWeek{
		{PlanID: "plan-1", Number: 1, StartsOn: date("2026-01-05"), EndsOn: date("2026-01-11"), CapacityMinutes: 180},
		{PlanID: "plan-1", Number: 2, StartsOn: date("2026-01-12"), EndsOn: date("2026-01-18"), Vacation: true},
	}}
	assignments := &planAssignmentStoreStub{details: []models.PlanAssignmentDetail{
		mockDetail("l1", 1, 1, 90),
		mockDetail("l2", 1, 2, 90),
	}}
	plans := &planStoreStub{plan: mockPlan()}

	exporter := NewExportService(plans, weeks, assignments, store, signer, plannerTestConfig(), "/api/v1", time.Hour, nil, nil, nil)

	repo := newExportJobStoreStub()
	queue := &dispatcherStub{full: cfg.queueFull}
	service := NewPlanExportService(repo, plans, queue, exporter, nil, PlanExportConfig{
		ResultTTL:  time.Hour,
		MaxRetries: 3,
	})
	return &exportFixture{service: service, exporter: exporter, repo: repo, queue: queue}
}

func plannerTestConfig() config.PlannerConfig {
	return config.PlannerConfig{DefaultLessonMinutes: 30, MinEffectiveMinutes: 5, MaxHorizonWeeks: 160}
}

func (f *exportFixture) seedJob(format models.ExportFormat) *models.ExportJob {
	job := &models.ExportJob{
		PlanID:    "plan-1",
		Params:    models.ExportJobParams{Format: format},
		Status:    models.ExportStatusQueued,
		CreatedBy: "student-1",
	}
	if err := f.repo.Create(context.Background(), job); err != nil {
		panic(err)
	}
	return job
}

type exportJobStoreStub struct {
	jobs              map[string]*models.ExportJob
	seq               int
	listFinishedCalls int
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: make(map[string]*models.ExportJob)}
}

func (s *exportJobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	s.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", s.seq)
	}
	job.CreatedAt = time.Now().UTC()
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

func (s *exportJobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *exportJobStoreStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *exportJobStoreStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	out := make([]models.ExportJob, 0)
	for _, job := range s.jobs {
		if job.Status == models.ExportStatusQueued {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *exportJobStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	s.listFinishedCalls++
	out := make([]models.ExportJob, 0)
	for _, job := range s.jobs {
		if job.Status != models.ExportStatusFinished {
			continue
		}
		if job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		out = append(out, *job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type dispatcherStub struct {
	full     bool
	enqueued []jobs.Job
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.full {
		return errors.New("queue full")
	}
	d.enqueued = append(d.enqueued, job)
	return nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	return nil, errors.New("render failed")
}
