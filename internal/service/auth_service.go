package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/repository"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/geo"
)

type authAccountStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	RecordFailedLogin(ctx context.Context, id string, maxFailures int) (int, bool, error)
	RecordSuccessfulLogin(ctx context.Context, id string, login models.LoginRecord) error
	SetPhoneVerified(ctx context.Context, id string, verified bool) error
}

type phoneCodeStore interface {
	Store(ctx context.Context, accountID, code string, ttl time.Duration) error
	Consume(ctx context.Context, accountID, code string) (bool, error)
}

type sessionIssuer interface {
	IssuePair(ctx context.Context, account *models.Account, fingerprint string) (*models.TokenPair, error)
	RotateRefreshToken(ctx context.Context, token, fingerprint string) (*models.TokenPair, error)
	RevokeRefreshToken(ctx context.Context, token, accountID string) error
}

type accessRevoker interface {
	Revoke(ctx context.Context, jti, accountID string, expiresAt time.Time, reason string) error
}

type loginTrust interface {
	trustAdjuster
	DetectTravelAnomaly(prev *models.LoginRecord, curr models.LoginRecord) TravelAssessment
	ApplyTravelAnomaly(ctx context.Context, accountID string, assessment TravelAssessment, ip string, at time.Time) error
}

type loginRateLimiter interface {
	Allow(ip string) bool
}

// Notifier delivers phone verification codes.
type Notifier interface {
	SendVerificationCode(ctx context.Context, phoneNumber, code string) error
}

// LogNotifier writes codes to the log. It stands in for an SMS gateway outside production.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// SendVerificationCode implements Notifier.
func (n *LogNotifier) SendVerificationCode(_ context.Context, phoneNumber, code string) error {
	phone := maskPhone(phoneNumber)
	n.logger.Info("phone verification code issued", zap.String("phone", phone))
	n.logger.Debug("phone verification code", zap.String("phone", phone), zap.String("code", code))
	return nil
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	TrustFloor      int
	MaxFailedLogins int
	PhoneCodeTTL    time.Duration
}

// AuthService provides authentication use cases.
type AuthService struct {
	accounts  authAccountStore
	codes     phoneCodeStore
	tokens    sessionIssuer
	revoker   accessRevoker
	trust     loginTrust
	threats   threatRecorder
	audit     auditLogger
	limiter   loginRateLimiter
	locator   geo.Locator
	notifier  Notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time

	// compared against when the username does not exist so timing does not leak it
	dummyHash []byte
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Accounts authAccountStore
	Codes    phoneCodeStore
	Tokens   sessionIssuer
	Revoker  accessRevoker
	Trust    loginTrust
	Threats  threatRecorder
	Audit    auditLogger
	Limiter  loginRateLimiter
	Locator  geo.Locator
	Notifier Notifier
	Metrics  *MetricsService
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.TrustFloor <= 0 {
		config.TrustFloor = 40
	}
	if config.MaxFailedLogins <= 0 {
		config.MaxFailedLogins = 5
	}
	if config.PhoneCodeTTL <= 0 {
		config.PhoneCodeTTL = 10 * time.Minute
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(logger)
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("citygrid-timing-equaliser"), bcrypt.MinCost)
	return &AuthService{
		accounts:  deps.Accounts,
		codes:     deps.Codes,
		tokens:    deps.Tokens,
		revoker:   deps.Revoker,
		trust:     deps.Trust,
		threats:   deps.Threats,
		audit:     deps.Audit,
		limiter:   deps.Limiter,
		locator:   deps.Locator,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}
}

// Register creates an unverified ANALYST account and sends a verification code.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := s.now()
	account := &models.Account{
		ID:           uuid.NewString(),
		Username:     strings.ToLower(req.Username),
		PasswordHash: string(hash),
		Role:         models.RoleAnalyst,
		Zone:         req.Zone,
		PhoneNumber:  req.PhoneNumber,
		TrustScore:   models.DefaultTrustScore,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username already taken")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	if err := s.sendCode(ctx, account); err != nil {
		s.logger.Warn("failed to send verification code", zap.String("account_id", account.ID), zap.Error(err))
	}

	return &dto.RegisterResponse{ID: account.ID, Username: account.Username, Role: account.Role, Zone: account.Zone}, nil
}

// VerifyPhone consumes a verification code and marks the phone verified.
func (s *AuthService) VerifyPhone(ctx context.Context, req dto.VerifyPhoneRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	invalid := appErrors.Clone(appErrors.ErrValidation, "invalid or expired verification code")

	account, err := s.accounts.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invalid
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	ok, err := s.codes.Consume(ctx, account.ID, req.Code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check verification code")
	}
	if !ok {
		return invalid
	}
	if err := s.accounts.SetPhoneVerified(ctx, account.ID, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify phone")
	}
	s.logger.Info("phone verified", zap.String("account_id", account.ID))
	return nil
}

// Login authenticates credentials and issues a session.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest, client dto.ClientContext) (*dto.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	if s.limiter != nil && !s.limiter.Allow(client.IP) {
		s.recordThreat(ctx, models.ThreatRateLimitBreach, models.SeverityMedium, "", client, "login rate limit exceeded")
		return nil, s.loginDenied(ctx, nil, client, "rate_limited", appErrors.ErrRateLimited)
	}

	account, err := s.accounts.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
			return nil, s.loginDenied(ctx, nil, client, "unknown_user", appErrors.ErrInvalidCredentials)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch account")
	}

	if account.Locked {
		return nil, s.loginDenied(ctx, account, client, "locked", appErrors.ErrAccountLocked)
	}

	if account.TrustScore < s.config.TrustFloor {
		if _, err := s.trust.Adjust(ctx, account.ID, SignalLowTrustLogin); err != nil {
			s.logger.Error("failed to apply trust penalty", zap.Error(err))
		}
		s.recordThreat(ctx, models.ThreatLowTrustLogin, models.SeverityMedium, account.ID, client, "login below trust floor")
		return nil, s.loginDenied(ctx, account, client, "low_trust", appErrors.ErrTrustTooLow)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		if _, err := s.trust.Adjust(ctx, account.ID, SignalFailedLogin); err != nil {
			s.logger.Error("failed to apply trust penalty", zap.Error(err))
		}
		failures, locked, err := s.accounts.RecordFailedLogin(ctx, account.ID, s.config.MaxFailedLogins)
		if err != nil {
			s.logger.Error("failed to record failed login", zap.Error(err))
		}
		if locked {
			s.recordThreat(ctx, models.ThreatBruteForce, models.SeverityHigh, account.ID, client,
				fmt.Sprintf("account locked after %d failed logins", failures))
		}
		return nil, s.loginDenied(ctx, account, client, "bad_password", appErrors.ErrInvalidCredentials)
	}

	if !account.PhoneVerified {
		return nil, s.loginDenied(ctx, account, client, "phone_unverified", appErrors.ErrPhoneUnverified)
	}

	now := s.now()
	current := models.LoginRecord{IP: client.IP, DeviceID: client.DeviceID, At: now}
	if s.locator != nil {
		if loc, ok := s.locator.Locate(client.IP); ok {
			current.Country, current.Lat, current.Lon, current.Located = loc.Country, loc.Lat, loc.Lon, true
		}
	}
	assessment := s.trust.DetectTravelAnomaly(account.PreviousLogin(), current)
	if assessment.Anomalous() {
		if err := s.trust.ApplyTravelAnomaly(ctx, account.ID, assessment, client.IP, now); err != nil {
			s.logger.Error("failed to apply travel anomaly", zap.Error(err))
		}
		if assessment.Severity == models.SeverityCritical {
			if err := s.sendCode(ctx, account); err != nil {
				s.logger.Warn("failed to send re-verification code", zap.Error(err))
			}
			return nil, s.loginDenied(ctx, account, client, "impossible_travel",
				appErrors.Clone(appErrors.ErrPhoneUnverified, "phone re-verification required"))
		}
	}

	if err := s.accounts.RecordSuccessfulLogin(ctx, account.ID, current); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record login")
	}

	pair, err := s.tokens.IssuePair(ctx, account, Fingerprint(client.IP, client.DeviceID, client.UserAgent))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	s.metrics.ObserveLogin("success")
	s.auditLogin(ctx, account, client, models.OutcomeAllowed, "login")
	return &dto.Session{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshRecord.ExpiresAt,
		Account:          account,
	}, nil
}

// Refresh rotates the refresh token. Reuse and fingerprint mismatch surface
// as ErrTokenTheft so the caller clears the cookie.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client dto.ClientContext) (*dto.Session, error) {
	if refreshToken == "" {
		return nil, appErrors.ErrUnauthorized
	}
	pair, err := s.tokens.RotateRefreshToken(ctx, refreshToken, Fingerprint(client.IP, client.DeviceID, client.UserAgent))
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenReused), errors.Is(err, ErrFingerprintMismatch):
			s.auditLogin(ctx, nil, client, models.OutcomeDenied, err.Error())
			return nil, appErrors.Wrap(err, appErrors.ErrTokenTheft.Code, appErrors.ErrTokenTheft.Status, appErrors.ErrTokenTheft.Message)
		case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, appErrors.ErrUnauthorized.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to refresh session")
		}
	}
	return &dto.Session{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshRecord.ExpiresAt,
		Account:          pair.Account,
	}, nil
}

// Logout revokes the access token and, when presented, the refresh token.
func (s *AuthService) Logout(ctx context.Context, claims *models.AccessClaims, refreshToken string, client dto.ClientContext) error {
	if claims == nil || claims.ExpiresAt == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time, models.RevokeReasonLogout); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke token")
	}
	if refreshToken != "" {
		if err := s.tokens.RevokeRefreshToken(ctx, refreshToken, claims.Subject); err != nil {
			s.logger.Warn("failed to revoke refresh token at logout", zap.String("account_id", claims.Subject), zap.Error(err))
		}
	}
	s.logger.Info("logout", zap.String("account_id", claims.Subject), zap.String("ip", client.IP))
	return nil
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return account, nil
}

func (s *AuthService) sendCode(ctx context.Context, account *models.Account) error {
	code, err := verificationCode()
	if err != nil {
		return err
	}
	if err := s.codes.Store(ctx, account.ID, code, s.config.PhoneCodeTTL); err != nil {
		return err
	}
	return s.notifier.SendVerificationCode(ctx, account.PhoneNumber, code)
}

func (s *AuthService) loginDenied(ctx context.Context, account *models.Account, client dto.ClientContext, reason string, err *appErrors.Error) error {
	s.metrics.ObserveLogin(reason)
	s.auditLogin(ctx, account, client, models.OutcomeDenied, reason)
	return err
}

func (s *AuthService) auditLogin(ctx context.Context, account *models.Account, client dto.ClientContext, outcome models.Outcome, reason string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Endpoint: client.Endpoint,
		Method:   client.Method,
		Outcome:  outcome,
		Reason:   reason,
		DeviceID: client.DeviceID,
		IP:       client.IP,
	}
	if account != nil {
		id := account.ID
		entry.AccountID = &id
		entry.Username = account.Username
		entry.Role = string(account.Role)
	}
	if _, err := s.audit.LogAction(ctx, entry); err != nil {
		s.logger.Warn("failed to audit login", zap.Error(err))
	}
}

func (s *AuthService) recordThreat(ctx context.Context, eventType models.ThreatEventType, severity models.Severity, accountID string, client dto.ClientContext, detail string) {
	if s.threats == nil {
		return
	}
	if _, err := s.threats.RecordEvent(ctx, ThreatEventInput{
		Type:      eventType,
		Severity:  severity,
		AccountID: accountID,
		Endpoint:  client.Endpoint,
		IP:        client.IP,
		Detail:    detail,
	}); err != nil {
		s.logger.Error("failed to record threat event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
