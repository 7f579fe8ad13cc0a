package dto

import "github.com/aprovamais/studyplan-api/internal/models"

// CreateExportRequest queues an asynchronous plan export.
type CreateExportRequest struct {
	Format models.ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportJobResponse acknowledges a queued export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	PlanID   string              `json:"planId"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes job progress and the download URL when done.
type ExportStatusResponse struct {
	ID        string              `json:"id"`
	PlanID    string              `json:"planId"`
	Status    models.ExportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
