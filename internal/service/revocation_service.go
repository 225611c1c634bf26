package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
)

type revocationCache interface {
	Mark(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

type revokedTokenLog interface {
	Insert(ctx context.Context, record *models.RevokedToken) error
}

// RevocationService tracks revoked access tokens. Lookups only touch the
// cache; the durable log exists for forensics and cache rebuilds.
type RevocationService struct {
	cache  revocationCache
	log    revokedTokenLog
	logger *zap.Logger
	now    func() time.Time
}

// NewRevocationService constructs a RevocationService.
func NewRevocationService(cache revocationCache, log revokedTokenLog, logger *zap.Logger) *RevocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevocationService{cache: cache, log: log, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Revoke marks jti revoked until expiresAt. Calling it twice is harmless.
func (s *RevocationService) Revoke(ctx context.Context, jti, accountID string, expiresAt time.Time, reason string) error {
	if jti == "" {
		return fmt.Errorf("revoke: empty jti")
	}
	now := s.now()
	var errs []error
	if ttl := expiresAt.Sub(now); ttl > 0 {
		if err := s.cache.Mark(ctx, jti, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.log.Insert(ctx, &models.RevokedToken{
		JTI:       jti,
		AccountID: accountID,
		ExpiresAt: expiresAt,
		Reason:    reason,
		RevokedAt: now,
	}); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		s.logger.Error("token revocation incomplete", zap.String("jti", jti), zap.Errors("errors", errs))
		return errors.Join(errs...)
	}
	return nil
}

// IsRevoked reports whether jti was revoked.
func (s *RevocationService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.cache.Contains(ctx, jti)
}
