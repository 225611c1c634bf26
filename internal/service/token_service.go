package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/repository"
)

// Token verification failures. Callers map all of them to a generic 401.
var (
	ErrTokenInvalid        = errors.New("token invalid")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrTokenReused         = errors.New("refresh token reused")
	ErrFingerprintMismatch = errors.New("refresh token fingerprint mismatch")
	ErrRevocationCheck     = errors.New("revocation check failed")
)

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldJTI string, next *models.RefreshToken, now time.Time) error
	Revoke(ctx context.Context, jti string, now time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error)
}

type revocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type threatRecorder interface {
	RecordEvent(ctx context.Context, input ThreatEventInput) (int, error)
}

// TokenConfig holds signing material and lifetimes.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenService issues, verifies and rotates tokens.
type TokenService struct {
	refresh     refreshTokenStore
	revocations revocationChecker
	accounts    accountReader
	threats     threatRecorder
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         TokenConfig
	now         func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(refresh refreshTokenStore, revocations revocationChecker, accounts accountReader, threats threatRecorder, metrics *MetricsService, logger *zap.Logger, cfg TokenConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{
		refresh:     refresh,
		revocations: revocations,
		accounts:    accounts,
		threats:     threats,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Fingerprint binds a refresh token to the client that received it.
func Fingerprint(ip, deviceID, userAgent string) string {
	device := deviceID
	if device == "" {
		device = userAgent
	}
	sum := sha256.Sum256([]byte(ip + "|" + device))
	return hex.EncodeToString(sum[:])
}

// IssueAccessToken signs a short-lived access token with a fresh jti.
func (s *TokenService) IssueAccessToken(accountID string, role models.Role, zone string) (string, *models.AccessClaims, error) {
	now := s.now()
	claims := &models.AccessClaims{
		Role: role,
		Zone: zone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// IssueRefreshToken signs and persists a refresh token bound to fingerprint.
func (s *TokenService) IssueRefreshToken(ctx context.Context, accountID, fingerprint string) (string, *models.RefreshToken, error) {
	signed, record, err := s.newRefreshToken(accountID, fingerprint)
	if err != nil {
		return "", nil, err
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return "", nil, fmt.Errorf("persist refresh token: %w", err)
	}
	return signed, record, nil
}

// IssuePair issues a fresh access and refresh token for account.
func (s *TokenService) IssuePair(ctx context.Context, account *models.Account, fingerprint string) (*models.TokenPair, error) {
	access, claims, err := s.IssueAccessToken(account.ID, account.Role, account.Zone)
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.IssueRefreshToken(ctx, account.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:   access,
		AccessClaims:  claims,
		RefreshToken:  refresh,
		RefreshRecord: record,
		Account:       account,
	}, nil
}

// VerifyAccessToken checks signature, expiry and revocation. A failed
// revocation lookup rejects the token.
func (s *TokenService) VerifyAccessToken(ctx context.Context, token string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := s.parse(token, s.cfg.AccessSecret, claims, true); err != nil {
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Warn("revocation lookup failed", zap.String("jti", claims.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRevocationCheck, err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// RotateRefreshToken exchanges a refresh token for a new pair. Presenting a
// token that is unknown, already revoked or bound to another client revokes
// every refresh token of the account.
func (s *TokenService) RotateRefreshToken(ctx context.Context, token, fingerprint string) (*models.TokenPair, error) {
	claims := &models.RefreshClaims{}
	if err := s.parse(token, s.cfg.RefreshSecret, claims, false); err != nil {
		s.metrics.ObserveRotation("invalid")
		return nil, err
	}

	record, err := s.refresh.FindByJTI(ctx, claims.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if record == nil || record.Revoked {
		s.compromise(ctx, claims.Subject, models.ThreatTokenReuse, claims.ID)
		s.metrics.ObserveRotation("reused")
		return nil, ErrTokenReused
	}
	if subtle.ConstantTimeCompare([]byte(record.Fingerprint), []byte(fingerprint)) != 1 {
		s.compromise(ctx, record.AccountID, models.ThreatFingerprintMismatch, claims.ID)
		s.metrics.ObserveRotation("fingerprint_mismatch")
		return nil, ErrFingerprintMismatch
	}
	now := s.now()
	if !record.ExpiresAt.After(now) {
		s.metrics.ObserveRotation("expired")
		return nil, ErrTokenExpired
	}

	account, err := s.accounts.FindByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account.Locked {
		return nil, ErrTokenInvalid
	}

	signed, next, err := s.newRefreshToken(account.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Rotate(ctx, record.JTI, next, now); err != nil {
		if errors.Is(err, repository.ErrRefreshTokenConsumed) {
			s.compromise(ctx, record.AccountID, models.ThreatTokenReuse, claims.ID)
			s.metrics.ObserveRotation("reused")
			return nil, ErrTokenReused
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, accessClaims, err := s.IssueAccessToken(account.ID, account.Role, account.Zone)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRotation("rotated")
	return &models.TokenPair{
		AccessToken:   access,
		AccessClaims:  accessClaims,
		RefreshToken:  signed,
		RefreshRecord: next,
		Account:       account,
	}, nil
}

// RevokeRefreshToken revokes the refresh token presented at logout. It only
// acts on tokens owned by accountID.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token, accountID string) error {
	claims := &models.RefreshClaims{}
	if err := s.parse(token, s.cfg.RefreshSecret, claims, false); err != nil {
		return err
	}
	if claims.Subject != accountID {
		return ErrTokenInvalid
	}
	if _, err := s.refresh.Revoke(ctx, claims.ID, s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) newRefreshToken(accountID, fingerprint string) (string, *models.RefreshToken, error) {
	now := s.now()
	record := &models.RefreshToken{
		JTI:         uuid.NewString(),
		AccountID:   accountID,
		Fingerprint: fingerprint,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		CreatedAt:   now,
	}
	claims := &models.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        record.JTI,
			Issuer:    s.cfg.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, record, nil
}

// parse verifies an HS256 token. Refresh tokens skip claim validation so that
// expiry is judged against the persisted record after reuse detection.
func (s *TokenService) parse(token, secret string, claims jwt.Claims, validateClaims bool) error {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if validateClaims {
		opts = append(opts, jwt.WithExpirationRequired())
		if s.cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	if id, _ := claims.GetSubject(); id == "" {
		return ErrTokenInvalid
	}
	switch c := claims.(type) {
	case *models.AccessClaims:
		if c.ID == "" {
			return ErrTokenInvalid
		}
	case *models.RefreshClaims:
		if c.ID == "" {
			return ErrTokenInvalid
		}
	}
	return nil
}

func (s *TokenService) compromise(ctx context.Context, accountID string, eventType models.ThreatEventType, jti string) {
	if accountID == "" {
		return
	}
	revoked, err := s.refresh.RevokeAllForAccount(ctx, accountID, s.now())
	if err != nil {
		s.logger.Error("failed to revoke refresh token chain", zap.String("account_id", accountID), zap.Error(err))
	}
	s.logger.Warn("refresh token theft detected",
		zap.String("account_id", accountID),
		zap.String("type", string(eventType)),
		zap.String("jti", jti),
		zap.Int64("revoked", revoked),
	)
	if s.threats == nil {
		return
	}
	if _, err := s.threats.RecordEvent(ctx, ThreatEventInput{
		Type:      eventType,
		Severity:  models.SeverityCritical,
		AccountID: accountID,
		Endpoint:  "/auth/refresh",
		Detail:    "jti=" + jti,
	}); err != nil {
		s.logger.Error("failed to record token theft event", zap.Error(err))
	}
}
