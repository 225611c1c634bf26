package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

type assetStore interface {
	FindByID(ctx context.Context, id string) (*models.Asset, error)
	ListByModule(ctx context.Context, module models.Module, zone string) ([]models.Asset, error)
	MergeState(ctx context.Context, id string, patch models.AssetState, now time.Time) error
}

// Actor identifies the authorized caller of an infrastructure operation.
type Actor struct {
	AccountID string
	Username  string
	Zone      string
}

// AssetService executes operations on infrastructure assets. Authorization
// happens in the gatekeeper before any method here runs.
type AssetService struct {
	store     assetStore
	bus       alertPublisher
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAssetService constructs an AssetService. bus may be nil, in which case
// commands are only recorded.
func NewAssetService(store assetStore, bus alertPublisher, validate *validator.Validate, logger *zap.Logger) *AssetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssetService{store: store, bus: bus, validator: validate, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// List returns module assets, optionally narrowed to zone.
func (s *AssetService) List(ctx context.Context, module models.Module, zone string) ([]models.Asset, error) {
	assets, err := s.store.ListByModule(ctx, module, zone)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assets")
	}
	return assets, nil
}

// Get returns a single asset of module.
func (s *AssetService) Get(ctx context.Context, module models.Module, id string) (*models.Asset, error) {
	asset, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "asset not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load asset")
	}
	if asset.Module != module {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "asset not found")
	}
	return asset, nil
}

// Command records and dispatches an operator command for an asset.
func (s *AssetService) Command(ctx context.Context, module models.Module, id string, req dto.AssetCommandRequest, actor Actor) (*models.Asset, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid command payload")
	}
	asset, err := s.Get(ctx, module, id)
	if err != nil {
		return nil, err
	}
	cmd := models.AssetCommand{
		AssetID:  asset.ID,
		Module:   module,
		Zone:     asset.Zone,
		Command:  req.Command,
		Value:    req.Value,
		IssuedBy: actor.AccountID,
		IssuedAt: s.now(),
	}
	return s.apply(ctx, asset, cmd, models.AssetState{
		"lastCommand": req.Command,
		"value":       req.Value,
		"commandedBy": actor.Username,
		"commandedAt": cmd.IssuedAt,
	})
}

// SignalOverride forces a traffic signal into a phase.
func (s *AssetService) SignalOverride(ctx context.Context, req dto.SignalOverrideRequest, actor Actor) (*models.Asset, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signal override payload")
	}
	asset, err := s.Get(ctx, models.ModuleTraffic, req.SignalID)
	if err != nil {
		return nil, err
	}
	cmd := models.AssetCommand{
		AssetID:   asset.ID,
		Module:    models.ModuleTraffic,
		Zone:      asset.Zone,
		Command:   "override_phase",
		Value:     req.Phase,
		IssuedBy:  actor.AccountID,
		Emergency: true,
		IssuedAt:  s.now(),
	}
	s.logger.Warn("signal override",
		zap.String("signal_id", asset.ID),
		zap.String("phase", req.Phase),
		zap.String("account_id", actor.AccountID),
		zap.String("reason", req.Reason),
	)
	return s.apply(ctx, asset, cmd, models.AssetState{
		"phase":          req.Phase,
		"override":       true,
		"overrideReason": req.Reason,
		"commandedBy":    actor.Username,
		"commandedAt":    cmd.IssuedAt,
	})
}

type broadcastMessage struct {
	Zone     string    `json:"zone"`
	Message  string    `json:"message"`
	IssuedBy string    `json:"issuedBy"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Broadcast sends an emergency message to every field device of a zone.
func (s *AssetService) Broadcast(ctx context.Context, req dto.BroadcastRequest, actor Actor) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid broadcast payload")
	}
	msg := broadcastMessage{Zone: req.Zone, Message: req.Message, IssuedBy: actor.AccountID, IssuedAt: s.now()}
	s.logger.Warn("emergency broadcast", zap.String("zone", req.Zone), zap.String("account_id", actor.AccountID))
	if s.bus == nil {
		return nil
	}
	if err := s.bus.PublishJSON(s.bus.Topic("emergency", "broadcasts", req.Zone), msg, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch broadcast")
	}
	return nil
}

func (s *AssetService) apply(ctx context.Context, asset *models.Asset, cmd models.AssetCommand, patch models.AssetState) (*models.Asset, error) {
	if s.bus != nil {
		topic := s.bus.Topic("commands", string(cmd.Module), asset.Zone, asset.ID)
		if err := s.bus.PublishJSON(topic, cmd, false); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch command")
		}
	}
	if err := s.store.MergeState(ctx, asset.ID, patch, cmd.IssuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "asset not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store asset state")
	}
	if asset.State == nil {
		asset.State = models.AssetState{}
	}
	for k, v := range patch {
		asset.State[k] = v
	}
	asset.UpdatedAt = cmd.IssuedAt
	return asset, nil
}
