package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

type overrideAccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	GrantOverride(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)
}

type overrideCounter interface {
	Hit(ctx context.Context, accountID string, window time.Duration) (int64, error)
}

// OverrideConfig limits emergency override grants.
type OverrideConfig struct {
	GrantDuration      time.Duration
	MaxRequestsPerHour int
}

// OverrideService grants time-boxed emergency overrides.
type OverrideService struct {
	accounts    overrideAccountStore
	counter     overrideCounter
	permissions *PermissionTable
	audit       auditLogger
	bus         alertPublisher
	logger      *zap.Logger
	cfg         OverrideConfig
	now         func() time.Time
}

// NewOverrideService constructs an OverrideService. bus may be nil.
func NewOverrideService(accounts overrideAccountStore, counter overrideCounter, permissions *PermissionTable, audit auditLogger, bus alertPublisher, logger *zap.Logger, cfg OverrideConfig) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GrantDuration <= 0 {
		cfg.GrantDuration = 15 * time.Minute
	}
	if cfg.MaxRequestsPerHour <= 0 {
		cfg.MaxRequestsPerHour = 3
	}
	return &OverrideService{
		accounts:    accounts,
		counter:     counter,
		permissions: permissions,
		audit:       audit,
		bus:         bus,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type overrideGrantedMessage struct {
	AccountID string    `json:"accountId"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Zone      string    `json:"zone"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Request grants an override to accountID unless one is already active or
// the hourly cap is exhausted.
func (s *OverrideService) Request(ctx context.Context, accountID string, client dto.ClientContext) (*dto.OverrideResponse, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnauthorized
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	role, err := ParseRole(string(account.Role), s.logger)
	if err != nil || !s.permissions.CanRequestOverride(role) {
		s.deny(ctx, account, client, "role may not request override")
		return nil, appErrors.ErrOverrideNotAllowed
	}

	now := s.now()
	if account.HasActiveOverride(now) {
		return nil, appErrors.ErrOverrideActive
	}

	count, err := s.counter.Hit(ctx, account.ID, time.Hour)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check override limit")
	}
	if count > int64(s.cfg.MaxRequestsPerHour) {
		s.deny(ctx, account, client, "override request limit reached")
		return nil, appErrors.Clone(appErrors.ErrRateLimited, "emergency override request limit reached")
	}

	expiresAt := now.Add(s.cfg.GrantDuration)
	granted, err := s.accounts.GrantOverride(ctx, account.ID, expiresAt, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant override")
	}
	if !granted {
		return nil, appErrors.ErrOverrideActive
	}

	s.logger.Warn("emergency override granted",
		zap.String("account_id", account.ID),
		zap.String("role", string(role)),
		zap.Time("expires_at", expiresAt),
	)
	if s.audit != nil {
		id := account.ID
		if _, err := s.audit.LogAction(ctx, &models.AuditLog{
			AccountID: &id,
			Username:  account.Username,
			Role:      string(role),
			Endpoint:  client.Endpoint,
			Method:    client.Method,
			Outcome:   models.OutcomeAllowed,
			Reason:    "emergency override granted",
			DeviceID:  client.DeviceID,
			IP:        client.IP,
		}); err != nil {
			s.logger.Warn("failed to audit override grant", zap.Error(err))
		}
	}
	if s.bus != nil {
		msg := overrideGrantedMessage{AccountID: account.ID, Username: account.Username, Role: string(role), Zone: account.Zone, ExpiresAt: expiresAt}
		if err := s.bus.PublishJSON(s.bus.Topic("security", "overrides"), msg, false); err != nil {
			s.logger.Warn("failed to publish override grant", zap.Error(err))
		}
	}
	return &dto.OverrideResponse{ExpiresAt: expiresAt}, nil
}

func (s *OverrideService) deny(ctx context.Context, account *models.Account, client dto.ClientContext, reason string) {
	if s.audit == nil {
		return
	}
	id := account.ID
	if _, err := s.audit.LogAction(ctx, &models.AuditLog{
		AccountID: &id,
		Username:  account.Username,
		Role:      string(account.Role),
		Endpoint:  client.Endpoint,
		Method:    client.Method,
		Outcome:   models.OutcomeDenied,
		Reason:    reason,
		DeviceID:  client.DeviceID,
		IP:        client.IP,
	}); err != nil {
		s.logger.Warn("failed to audit override denial", zap.Error(err))
	}
}
