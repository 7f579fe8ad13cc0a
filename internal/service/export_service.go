package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/pkg/config"
	"github.com/aprovamais/studyplan-api/pkg/export"
	"github.com/aprovamais/studyplan-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// ExportService renders a plan's week-by-week schedule into CSV or PDF and
// persists the file behind a signed download token.
type ExportService struct {
	plans       planFinder
	weeks       planWeekReader
	assignments planAssignmentReader
	storage     fileStorage
	csv         datasetRenderer
	pdf         datasetRenderer
	signer      *storage.SignedURLSigner
	logger      *zap.Logger
	planner     config.PlannerConfig
	apiPrefix   string
	resultTTL   time.Duration
}

// NewExportService constructs an ExportService.
func NewExportService(
	plans planFinder,
	weeks planWeekReader,
	assignments planAssignmentReader,
	store fileStorage,
	signer *storage.SignedURLSigner,
	planner config.PlannerConfig,
	apiPrefix string,
	resultTTL time.Duration,
	logger *zap.Logger,
	csv datasetRenderer,
	pdf datasetRenderer,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	if planner.DefaultLessonMinutes <= 0 {
		planner.DefaultLessonMinutes = 30
	}
	if planner.MinEffectiveMinutes <= 0 {
		planner.MinEffectiveMinutes = 5
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		plans:       plans,
		weeks:       weeks,
		assignments: assignments,
		storage:     store,
		csv:         csv,
		pdf:         pdf,
		signer:      signer,
		logger:      logger,
		planner:     planner,
		apiPrefix:   apiPrefix,
		resultTTL:   resultTTL,
	}
}

// Generate builds the plan dataset and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, err := s.buildDataset(ctx, job.PlanID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.apiPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	signedURL := fmt.Sprintf("%s/exports/download/%s", prefix, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to the configured TTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.resultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	planPart := sanitizeFilename(job.PlanID)
	return fmt.Sprintf("plan_%s_%s.%s", planPart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

// buildDataset flattens the plan into one row per assignment, ordered by
// week and ordinal, with vacation weeks rendered as single marker rows so
// the exported horizon has no silent gaps.
func (s *ExportService) buildDataset(ctx context.Context, planID string) (export.Dataset, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load plan: %w", err)
	}
	weeks, err := s.weeks.ListByPlan(ctx, planID)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load plan weeks: %w", err)
	}
	details, err := s.assignments.ListDetailedByPlan(ctx, planID)
	if err != nil {
		return export.Dataset{}, fmt.Errorf("load assignments: %w", err)
	}

	byWeek := make(map[int][]models.PlanAssignmentDetail, len(weeks))
	for _, detail := range details {
		byWeek[detail.WeekNumber] = append(byWeek[detail.WeekNumber], detail)
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("Study Plan %s to %s", plan.StartDate.Format(planDateLayout), plan.EndDate.Format(planDateLayout)),
		Headers: []string{"Week", "Starts", "Ends", "Discipline", "Track", "Lesson", "Ordinal", "Minutes"},
	}
	dataset.Rows = make([][]string, 0, len(details)+len(weeks))
	for _, week := range weeks {
		weekCells := []string{
			fmt.Sprintf("%d", week.Number),
			week.StartsOn.Format(planDateLayout),
			week.EndsOn.Format(planDateLayout),
		}
		if week.Vacation {
			dataset.Rows = append(dataset.Rows, append(weekCells, "", "", "(vacation)", "", ""))
			continue
		}
		for _, detail := range byWeek[week.Number] {
			row := append([]string{}, weekCells...)
			row = append(row,
				detail.DisciplineName,
				detail.TrackName,
				detail.LessonName,
				fmt.Sprintf("%d", detail.Position),
				fmt.Sprintf("%d", effectiveMinutes(detail.DurationMinutes, plan.PlaybackSpeed, s.planner)),
			)
			dataset.Rows = append(dataset.Rows, row)
		}
	}
	return dataset, nil
}
