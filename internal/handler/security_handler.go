package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

type threatReader interface {
	State(ctx context.Context) (*models.ThreatState, error)
	RecentEvents(ctx context.Context, limit int) ([]models.ThreatEvent, error)
	RecordEvent(ctx context.Context, input service.ThreatEventInput) (int, error)
}

// SecurityHandler exposes the global threat state and the honeypot routes.
type SecurityHandler struct {
	threats threatReader
	logger  *zap.Logger
}

// NewSecurityHandler constructs a SecurityHandler.
func NewSecurityHandler(threats threatReader, logger *zap.Logger) *SecurityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityHandler{threats: threats, logger: logger}
}

// ThreatState godoc
// @Summary Current threat score and level
// @Tags Security
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /security/threat [get]
func (h *SecurityHandler) ThreatState(c *gin.Context) {
	state, err := h.threats.State(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state, nil)
}

// RecentEvents lists the newest threat events. ?limit caps the page.
func (h *SecurityHandler) RecentEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a number"))
			return
		}
		limit = n
	}
	events, err := h.threats.RecentEvents(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Honeypot records a High honeypot_access event and answers like a missing route.
func (h *SecurityHandler) Honeypot(c *gin.Context) {
	client := middleware.ClientContext(c)
	_, err := h.threats.RecordEvent(c.Request.Context(), service.ThreatEventInput{
		Type:     models.ThreatHoneypotAccess,
		Severity: models.SeverityHigh,
		Endpoint: client.Endpoint,
		IP:       client.IP,
		Detail:   client.UserAgent,
	})
	if err != nil {
		h.logger.Warn("failed to record honeypot access", zap.String("ip", client.IP), zap.String("endpoint", client.Endpoint), zap.Error(err))
	}
	response.Error(c, appErrors.ErrNotFound)
}
