package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/export"
	"github.com/noah-isme/citygrid-api/pkg/jobs"
)

// JobTypeAuditExport is the queue job type for audit exports.
const JobTypeAuditExport = "audit_export"

type exportJobStore interface {
	Create(ctx context.Context, job *models.AuditExportJob) error
	FindByID(ctx context.Context, id string) (*models.AuditExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, resultURL string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, finishedAt time.Time) error
}

type auditExportSource interface {
	Export(ctx context.Context, filter models.AuditFilter, max int) ([]models.AuditLog, error)
}

type exportFileStore interface {
	Save(name string, data []byte) error
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) (int, error)
}

type downloadSigner interface {
	Generate(jobID, path string) (string, time.Time, error)
	Parse(token string) (jobID, path string, err error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// AuditExportConfig tunes audit export behaviour.
type AuditExportConfig struct {
	APIPrefix       string
	MaxRows         int
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// AuditExportService orchestrates audit export job lifecycle.
type AuditExportService struct {
	store     exportJobStore
	queue     jobDispatcher
	files     exportFileStore
	signer    downloadSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AuditExportConfig
}

// NewAuditExportService constructs the export service.
func NewAuditExportService(store exportJobStore, queue jobDispatcher, files exportFileStore, signer downloadSigner, validate *validator.Validate, logger *zap.Logger, cfg AuditExportConfig) *AuditExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &AuditExportService{store: store, queue: queue, files: files, signer: signer, validator: validate, logger: logger, cfg: cfg}
}

// CreateJob validates the request, persists a job and enqueues it.
func (s *AuditExportService) CreateJob(ctx context.Context, req dto.AuditExportRequest, actorID string) (*dto.AuditExportStatusResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}

	job := &models.AuditExportJob{
		ID:     uuid.NewString(),
		Format: req.Format,
		Status: models.ExportStatusQueued,
		Filter: models.AuditExportFilter{
			AccountID: req.AccountID,
			Outcome:   req.Outcome,
			From:      req.From,
			To:        req.To,
		},
		CreatedBy: actorID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeAuditExport}); err != nil {
		if markErr := s.store.MarkFailed(ctx, job.ID, "failed to enqueue job", time.Now().UTC()); markErr != nil {
			s.logger.Warn("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	return &dto.AuditExportStatusResponse{ID: job.ID, Status: job.Status}, nil
}

// GetStatus exposes job metadata to clients.
func (s *AuditExportService) GetStatus(ctx context.Context, id string) (*dto.AuditExportStatusResponse, error) {
	job, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	resp := &dto.AuditExportStatusResponse{ID: job.ID, Status: job.Status, DownloadURL: job.ResultURL}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a download token and opens the stored file.
func (s *AuditExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, path, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished || job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not available")
	}
	renderer, err := export.RendererFor(export.Format(job.Format))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unsupported export format")
	}
	file, err := s.files.Open(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{File: file, Filename: filepath.Base(path), ContentType: renderer.ContentType()}, nil
}

// StartCleanup purges expired export files periodically until ctx ends.
func (s *AuditExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.files.CleanupOlderThan(s.cfg.ResultTTL)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", removed))
				}
			}
		}
	}()
}

// AuditExportWorker renders queued export jobs.
type AuditExportWorker struct {
	store   exportJobStore
	source  auditExportSource
	files   exportFileStore
	signer  downloadSigner
	metrics *MetricsService
	logger  *zap.Logger
	cfg     AuditExportConfig
	now     func() time.Time
}

// NewAuditExportWorker constructs a worker.
func NewAuditExportWorker(store exportJobStore, source auditExportSource, files exportFileStore, signer downloadSigner, metrics *MetricsService, logger *zap.Logger, cfg AuditExportConfig) *AuditExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 10000
	}
	return &AuditExportWorker{
		store:   store,
		source:  source,
		files:   files,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes a queue job.
func (w *AuditExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.store.FindByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if err := w.store.MarkProcessing(ctx, record.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	renderer, err := export.RendererFor(export.Format(record.Format))
	if err != nil {
		return err
	}
	entries, err := w.source.Export(ctx, record.Filter.AuditFilter(), w.cfg.MaxRows)
	if err != nil {
		return fmt.Errorf("load audit entries: %w", err)
	}
	payload, err := renderer.Render(auditTable(entries))
	if err != nil {
		return fmt.Errorf("render export: %w", err)
	}

	name := fmt.Sprintf("audit_%s_%s.%s", w.now().Format("20060102_150405"), record.ID, renderer.Extension())
	if err := w.files.Save(name, payload); err != nil {
		return fmt.Errorf("store export: %w", err)
	}
	token, _, err := w.signer.Generate(record.ID, name)
	if err != nil {
		return fmt.Errorf("sign download: %w", err)
	}
	prefix := strings.TrimRight(w.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	url := fmt.Sprintf("%s/downloads/%s", prefix, token)
	if err := w.store.MarkFinished(ctx, record.ID, url, w.now()); err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	w.metrics.ObserveExportJob(string(models.ExportStatusFinished))
	w.logger.Info("audit export finished", zap.String("job_id", record.ID), zap.Int("rows", len(entries)))
	return nil
}

// OnFailure marks a job failed once the queue gives up on it.
func (w *AuditExportWorker) OnFailure(job jobs.Job, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if markErr := w.store.MarkFailed(ctx, job.ID, err.Error(), w.now()); markErr != nil {
		w.logger.Error("failed to mark export job failed", zap.String("job_id", job.ID), zap.Error(markErr))
	}
	w.metrics.ObserveExportJob(string(models.ExportStatusFailed))
}

func auditTable(entries []models.AuditLog) export.Table {
	table := export.Table{
		Title:   "Access Audit Log",
		Columns: []string{"Time", "Account", "Role", "Method", "Endpoint", "Outcome", "Reason", "IP", "Device", "Suppressed"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, e := range entries {
		table.Rows = append(table.Rows, []string{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Username,
			e.Role,
			e.Method,
			e.Endpoint,
			string(e.Outcome),
			e.Reason,
			e.IP,
			e.DeviceID,
			strconv.Itoa(e.SuppressedCount),
		})
	}
	return table
}
