package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

type auditLister interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
}

type auditExporter interface {
	CreateJob(ctx context.Context, req dto.AuditExportRequest, actorID string) (*dto.AuditExportStatusResponse, error)
	GetStatus(ctx context.Context, id string) (*dto.AuditExportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// AuditHandler exposes the access audit trail to administrators.
type AuditHandler struct {
	audit   auditLister
	exports auditExporter
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(audit auditLister, exports auditExporter) *AuditHandler {
	return &AuditHandler{audit: audit, exports: exports}
}

// List godoc
// @Summary List audit entries
// @Tags Audit
// @Security BearerAuth
// @Produce json
// @Param accountId query string false "Account ID"
// @Param outcome query string false "ALLOWED or DENIED"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// CreateExport godoc
// @Summary Queue an audit export
// @Tags Audit
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.AuditExportRequest true "Export request"
// @Success 202 {object} response.Envelope
// @Router /admin/audit/exports [post]
func (h *AuditHandler) CreateExport(c *gin.Context) {
	var req dto.AuditExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export payload"))
		return
	}
	account := middleware.CurrentAccount(c)
	if account == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.exports.CreateJob(c.Request.Context(), req, account.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}

// ExportStatus reports the progress of an export job.
func (h *AuditHandler) ExportStatus(c *gin.Context) {
	res, err := h.exports.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Download streams a finished export addressed by its signed token.
func (h *AuditHandler) Download(c *gin.Context) {
	download, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.Filename),
	})
}

func parseAuditFilter(c *gin.Context) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		AccountID: c.Query("accountId"),
		Outcome:   models.Outcome(c.Query("outcome")),
	}
	switch filter.Outcome {
	case "", models.OutcomeAllowed, models.OutcomeDenied:
	default:
		return filter, appErrors.Clone(appErrors.ErrValidation, "outcome must be ALLOWED or DENIED")
	}
	var err error
	if filter.From, err = parseTimeQuery(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeQuery(c, "to"); err != nil {
		return filter, err
	}
	if filter.Page, err = parseIntQuery(c, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = parseIntQuery(c, "pageSize"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be an RFC3339 timestamp")
	}
	return &t, nil
}

func parseIntQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be a positive number")
	}
	return n, nil
}
