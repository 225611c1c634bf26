package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat enumerates supported audit export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// AuditExportJob is persisted metadata for an asynchronous audit export.
type AuditExportJob struct {
	ID           string            `db:"id" json:"id"`
	Format       ExportFormat      `db:"format" json:"format"`
	Status       ExportStatus      `db:"status" json:"status"`
	Filter       AuditExportFilter `db:"filter" json:"filter"`
	ResultURL    *string           `db:"result_url" json:"resultUrl,omitempty"`
	ErrorMessage *string           `db:"error" json:"error,omitempty"`
	CreatedBy    string            `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time         `db:"created_at" json:"createdAt"`
	FinishedAt   *time.Time        `db:"finished_at" json:"finishedAt,omitempty"`
}

// AuditExportFilter is the subset of AuditFilter persisted with a job.
type AuditExportFilter struct {
	AccountID string     `json:"accountId,omitempty"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// AuditFilter converts the persisted filter back to a listing filter.
func (f AuditExportFilter) AuditFilter() AuditFilter {
	return AuditFilter{AccountID: f.AccountID, Outcome: f.Outcome, From: f.From, To: f.To}
}

// Value marshals the filter to JSON for persistence.
func (f AuditExportFilter) Value() (driver.Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal export filter: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into the filter.
func (f *AuditExportFilter) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*f = AuditExportFilter{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AuditExportFilter", value)
	}
	if len(data) == 0 {
		*f = AuditExportFilter{}
		return nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("unmarshal export filter: %w", err)
	}
	return nil
}
