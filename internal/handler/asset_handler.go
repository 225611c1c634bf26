package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

type assetService interface {
	List(ctx context.Context, module models.Module, zone string) ([]models.Asset, error)
	Get(ctx context.Context, module models.Module, id string) (*models.Asset, error)
	Command(ctx context.Context, module models.Module, id string, req dto.AssetCommandRequest, actor service.Actor) (*models.Asset, error)
	SignalOverride(ctx context.Context, req dto.SignalOverrideRequest, actor service.Actor) (*models.Asset, error)
	Broadcast(ctx context.Context, req dto.BroadcastRequest, actor service.Actor) error
}

// AssetHandler serves the infrastructure module routes. Every route it
// backs sits behind a gatekeeper Guard.
type AssetHandler struct {
	assets assetService
}

// NewAssetHandler constructs an AssetHandler.
func NewAssetHandler(assets assetService) *AssetHandler {
	return &AssetHandler{assets: assets}
}

// List returns the handler listing assets of module.
func (h *AssetHandler) List(module models.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		assets, err := h.assets.List(c.Request.Context(), module, c.Query("zone"))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, assets, nil)
	}
}

// Get returns the handler fetching a single asset of module.
func (h *AssetHandler) Get(module models.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		asset, err := h.assets.Get(c.Request.Context(), module, c.Param("id"))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, asset, nil)
	}
}

// Command godoc
// @Summary Send asset command
// @Tags Infrastructure
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param module path string true "Module"
// @Param id path string true "Asset ID"
// @Param payload body dto.AssetCommandRequest true "Command"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /{module}/assets/{id}/commands [post]
func (h *AssetHandler) Command(module models.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.AssetCommandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid command payload"))
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		asset, err := h.assets.Command(c.Request.Context(), module, c.Param("id"), req, actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, asset, nil)
	}
}

// SignalOverride godoc
// @Summary Force a traffic signal phase
// @Tags Infrastructure
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.SignalOverrideRequest true "Override"
// @Success 200 {object} response.Envelope
// @Router /traffic/signal-overrides [post]
func (h *AssetHandler) SignalOverride(c *gin.Context) {
	var req dto.SignalOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid signal override payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	asset, err := h.assets.SignalOverride(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, asset, nil)
}

// Broadcast godoc
// @Summary Broadcast an emergency message to a zone
// @Tags Infrastructure
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body dto.BroadcastRequest true "Broadcast"
// @Success 202 {object} response.Envelope
// @Router /emergency/broadcasts [post]
func (h *AssetHandler) Broadcast(c *gin.Context) {
	var req dto.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid broadcast payload"))
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.assets.Broadcast(c.Request.Context(), req, actor); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"zone": req.Zone})
}
