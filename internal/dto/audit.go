package dto

import (
	"time"

	"github.com/noah-isme/citygrid-api/internal/models"
)

// AuditExportRequest captures POST /admin/audit/exports payload.
type AuditExportRequest struct {
	Format    models.ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
	AccountID string              `json:"accountId" validate:"omitempty,uuid"`
	Outcome   models.Outcome      `json:"outcome" validate:"omitempty,oneof=ALLOWED DENIED"`
	From      *time.Time          `json:"from"`
	To        *time.Time          `json:"to"`
}

// AuditExportStatusResponse exposes job progress metadata.
type AuditExportStatusResponse struct {
	ID          string              `json:"id"`
	Status      models.ExportStatus `json:"status"`
	DownloadURL *string             `json:"downloadUrl,omitempty"`
	Error       *string             `json:"error,omitempty"`
}
