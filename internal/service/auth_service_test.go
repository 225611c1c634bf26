package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/geo"
)

type openThrottle struct{}

func (openThrottle) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (openThrottle) Release(context.Context, string) error { return nil }

type authFixture struct {
	svc         *AuthService
	tokens      *TokenService
	accounts    *mockAccounts
	codes       *mockCodes
	refresh     *mockRefreshStore
	revocations *mockRevocations
	threatStore *mockThreatStore
	auditStore  *mockAuditStore
	notifier    *capturingNotifier
}

func newAuthFixture(t *testing.T, limiter loginRateLimiter, accounts ...*models.Account) *authFixture {
	t.Helper()
	locator, err := geo.LoadStaticLocator("")
	require.NoError(t, err)

	f := &authFixture{
		accounts:    newMockAccounts(accounts...),
		codes:       &mockCodes{},
		refresh:     newMockRefreshStore(),
		revocations: newMockRevocations(),
		threatStore: &mockThreatStore{},
		auditStore:  &mockAuditStore{},
		notifier:    &capturingNotifier{},
	}
	threats := NewThreatService(f.threatStore, nil, zap.NewNop(), ThreatConfig{})
	f.tokens = NewTokenService(f.refresh, f.revocations, f.accounts, threats, nil, zap.NewNop(), TokenConfig{
		AccessSecret: "access", RefreshSecret: "refresh",
	})
	f.svc = NewAuthService(AuthDependencies{
		Accounts: f.accounts,
		Codes:    f.codes,
		Tokens:   f.tokens,
		Revoker:  NewRevocationService(f.revocations, &mockRevokedLog{}, zap.NewNop()),
		Trust:    NewTrustService(f.accounts, threats, nil, zap.NewNop(), TravelConfig{}),
		Threats:  threats,
		Audit:    NewAuditService(f.auditStore, openThrottle{}, nil, zap.NewNop(), time.Second),
		Limiter:  limiter,
		Locator:  locator,
		Notifier: f.notifier,
	}, validator.New(), zap.NewNop(), AuthConfig{})
	return f
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func verifiedAccount(t *testing.T) *models.Account {
	return &models.Account{
		ID: "acc-1", Username: "ops1", PasswordHash: hashed(t, "correct-horse"), Role: models.RoleTrafficOperator,
		Zone: "north", PhoneNumber: "+6281234567890", PhoneVerified: true, TrustScore: 100,
	}
}

var jakartaClient = dto.ClientContext{IP: "10.0.0.5", DeviceID: "laptop", UserAgent: "console", Endpoint: "/api/v1/auth/login", Method: "POST"}

func TestAuthRegisterAndVerifyPhone(t *testing.T) {
	f := newAuthFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, dto.RegisterRequest{Username: "NewOps", Password: "long-enough-pw", PhoneNumber: "+6281200000000", Zone: "east"})
	require.NoError(t, err)
	assert.Equal(t, "newops", resp.Username)
	assert.Equal(t, models.RoleAnalyst, resp.Role)
	assert.Equal(t, "+6281200000000", f.notifier.phone)
	assert.Len(t, f.notifier.code, 6)

	_, err = f.svc.Register(ctx, dto.RegisterRequest{Username: "newops", Password: "long-enough-pw", PhoneNumber: "+6281200000001", Zone: "east"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Register(ctx, dto.RegisterRequest{Username: "x", Password: "short", PhoneNumber: "nope"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	wrong := "000000"
	if f.notifier.code == wrong {
		wrong = "111111"
	}
	err = f.svc.VerifyPhone(ctx, dto.VerifyPhoneRequest{Username: "newops", Code: wrong})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	require.NoError(t, f.svc.VerifyPhone(ctx, dto.VerifyPhoneRequest{Username: "newops", Code: f.notifier.code}))
	assert.True(t, f.accounts.get(resp.ID).PhoneVerified)

	err = f.svc.VerifyPhone(ctx, dto.VerifyPhoneRequest{Username: "newops", Code: f.notifier.code})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthLoginIssuesSession(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))

	session, err := f.svc.Login(context.Background(), dto.LoginRequest{Username: "OPS1", Password: "correct-horse"}, jakartaClient)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "north", session.Account.Zone)
	assert.Equal(t, 1, f.refresh.active("acc-1"))

	require.Len(t, f.accounts.logins, 1)
	assert.Equal(t, "ID", f.accounts.logins[0].Country)
	assert.True(t, f.accounts.logins[0].Located)

	rows := f.auditStore.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutcomeAllowed, rows[0].Outcome)

	claims, err := f.tokens.VerifyAccessToken(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)
}

func TestAuthLoginUnknownUser(t *testing.T) {
	f := newAuthFixture(t, nil)

	_, err := f.svc.Login(context.Background(), dto.LoginRequest{Username: "ghost", Password: "whatever"}, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	require.Len(t, f.auditStore.rows(), 1)
	assert.Equal(t, "unknown_user", f.auditStore.rows()[0].Reason)
}

func TestAuthLoginBruteForceLocksAccount(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "wrong"}, jakartaClient)
		assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
	}

	account := f.accounts.get("acc-1")
	assert.True(t, account.Locked)
	assert.Equal(t, 25, account.TrustScore)
	events := f.threatStore.eventsOf(models.ThreatBruteForce)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)

	_, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrAccountLocked)
}

func TestAuthLoginBelowTrustFloor(t *testing.T) {
	account := verifiedAccount(t)
	account.TrustScore = 35
	f := newAuthFixture(t, nil, account)

	_, err := f.svc.Login(context.Background(), dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrTrustTooLow)
	assert.Equal(t, 15, f.accounts.get("acc-1").TrustScore)
	assert.Len(t, f.threatStore.eventsOf(models.ThreatLowTrustLogin), 1)
	assert.Equal(t, 0, f.refresh.active("acc-1"))
}

func TestAuthLoginRequiresVerifiedPhone(t *testing.T) {
	account := verifiedAccount(t)
	account.PhoneVerified = false
	f := newAuthFixture(t, nil, account)

	_, err := f.svc.Login(context.Background(), dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrPhoneUnverified)
}

func TestAuthLoginImpossibleTravelForcesReverification(t *testing.T) {
	account := verifiedAccount(t)
	lastAt := time.Now().UTC().Add(-time.Hour)
	ip, country, device := "10.0.0.5", "ID", "laptop"
	lat, lon := -6.2088, 106.8456
	account.LastLoginAt, account.LastLoginIP, account.LastLoginCountry, account.LastLoginDeviceID = &lastAt, &ip, &country, &device
	account.LastLoginLat, account.LastLoginLon = &lat, &lon
	f := newAuthFixture(t, nil, account)

	client := dto.ClientContext{IP: "198.51.100.7", DeviceID: "unknown-phone", Endpoint: "/api/v1/auth/login", Method: "POST"}
	_, err := f.svc.Login(context.Background(), dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, client)

	require.ErrorIs(t, err, appErrors.ErrPhoneUnverified)
	assert.Equal(t, "phone re-verification required", appErrors.FromError(err).Message)
	stored := f.accounts.get("acc-1")
	assert.False(t, stored.PhoneVerified)
	assert.Equal(t, 50, stored.TrustScore)
	assert.NotEmpty(t, f.notifier.code)
	assert.Len(t, f.threatStore.eventsOf(models.ThreatImpossibleTravel), 1)
	assert.Equal(t, 0, f.refresh.active("acc-1"))
}

func TestAuthLoginRateLimited(t *testing.T) {
	f := newAuthFixture(t, NewLoginLimiter(1, 2), verifiedAccount(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
		require.NoError(t, err)
	}
	_, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrRateLimited)
	assert.Len(t, f.threatStore.eventsOf(models.ThreatRateLimitBreach), 1)
}

func TestAuthRefreshRotatesAndDetectsTheft(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))
	ctx := context.Background()

	session, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, session.RefreshToken, jakartaClient)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, "ops1", rotated.Account.Username)

	_, err = f.svc.Refresh(ctx, session.RefreshToken, jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrTokenTheft)
	assert.Equal(t, 0, f.refresh.active("acc-1"))

	_, err = f.svc.Refresh(ctx, "", jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.svc.Refresh(ctx, "garbage", jakartaClient)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthRefreshFromAnotherDeviceIsTheft(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))
	ctx := context.Background()

	session, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	require.NoError(t, err)

	stolen := jakartaClient
	stolen.IP = "203.0.113.50"
	_, err = f.svc.Refresh(ctx, session.RefreshToken, stolen)
	assert.ErrorIs(t, err, appErrors.ErrTokenTheft)
	assert.Len(t, f.threatStore.eventsOf(models.ThreatFingerprintMismatch), 1)
}

func TestAuthLogoutRevokesAccessToken(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))
	ctx := context.Background()

	session, err := f.svc.Login(ctx, dto.LoginRequest{Username: "ops1", Password: "correct-horse"}, jakartaClient)
	require.NoError(t, err)
	claims, err := f.tokens.VerifyAccessToken(ctx, session.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, claims, session.RefreshToken, jakartaClient))

	_, err = f.tokens.VerifyAccessToken(ctx, session.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, 0, f.refresh.active("acc-1"))

	assert.ErrorIs(t, f.svc.Logout(ctx, nil, "", jakartaClient), appErrors.ErrUnauthorized)
}

func TestAuthMe(t *testing.T) {
	f := newAuthFixture(t, nil, verifiedAccount(t))

	account, err := f.svc.Me(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "ops1", account.Username)

	_, err = f.svc.Me(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestLogNotifierKeepsCodeOutOfInfoLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core))
	require.NoError(t, notifier.SendVerificationCode(context.Background(), "+6281234567890", "482913"))

	require.Equal(t, 1, logs.Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.ContextMap(), "code")
		assert.Equal(t, "**********7890", entry.ContextMap()["phone"])
	}

	debugCore, debugLogs := observer.New(zapcore.DebugLevel)
	require.NoError(t, NewLogNotifier(zap.New(debugCore)).SendVerificationCode(context.Background(), "+6281234567890", "482913"))
	assert.Equal(t, "482913", debugLogs.FilterMessage("phone verification code").All()[0].ContextMap()["code"])
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "**********7890", maskPhone("+6281234567890"))
	assert.Equal(t, "****", maskPhone("123"))
}
