package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	"github.com/noah-isme/citygrid-api/pkg/config"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var operatorAccount = &models.Account{ID: "acc-1", Username: "ops1", Role: models.RoleTrafficOperator, Zone: "north", TrustScore: 90, PhoneVerified: true}

// asAccount stands in for Authenticate/Guard by publishing a fixed account.
func asAccount(account *models.Account) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextAccountKey, account)
		c.Set(middleware.ContextClaimsKey, &models.AccessClaims{
			Role: account.Role,
			Zone: account.Zone,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "jti-" + account.ID,
				Subject:   account.ID,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		})
		c.Next()
	}
}

func do(r http.Handler, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var payload []byte
	switch v := body.(type) {
	case nil:
	case string:
		payload = []byte(v)
	default:
		payload, _ = json.Marshal(v)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range w.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

type authServiceMock struct {
	session    *dto.Session
	loginErr   error
	refreshErr error
	logoutErr  error

	gotRefresh  string
	gotLoggedIn dto.ClientContext
	loggedOut   *models.AccessClaims
	logoutToken string
}

func (m *authServiceMock) Register(_ context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error) {
	return &dto.RegisterResponse{ID: "acc-9", Username: req.Username, Role: models.RoleAnalyst, Zone: req.Zone}, nil
}

func (m *authServiceMock) VerifyPhone(context.Context, dto.VerifyPhoneRequest) error { return nil }

func (m *authServiceMock) Login(_ context.Context, _ dto.LoginRequest, client dto.ClientContext) (*dto.Session, error) {
	m.gotLoggedIn = client
	return m.session, m.loginErr
}

func (m *authServiceMock) Refresh(_ context.Context, token string, _ dto.ClientContext) (*dto.Session, error) {
	m.gotRefresh = token
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.session, nil
}

func (m *authServiceMock) Logout(_ context.Context, claims *models.AccessClaims, token string, _ dto.ClientContext) error {
	m.loggedOut = claims
	m.logoutToken = token
	return m.logoutErr
}

func (m *authServiceMock) Me(_ context.Context, id string) (*models.Account, error) {
	if id != operatorAccount.ID {
		return nil, appErrors.ErrNotFound
	}
	return operatorAccount, nil
}

type overrideMock struct {
	err error
}

func (m *overrideMock) Request(context.Context, string, dto.ClientContext) (*dto.OverrideResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dto.OverrideResponse{ExpiresAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}, nil
}

func newAuthRouter(auth *authServiceMock, overrides *overrideMock) *gin.Engine {
	h := NewAuthHandler(auth, overrides, config.CookieConfig{Name: "refresh_token", Path: "/api/v1/auth"})
	r := gin.New()
	r.POST("/api/v1/auth/register", h.Register)
	r.POST("/api/v1/auth/login", h.Login)
	r.POST("/api/v1/auth/refresh", h.Refresh)
	r.POST("/api/v1/auth/logout", asAccount(operatorAccount), h.Logout)
	r.GET("/api/v1/auth/me", asAccount(operatorAccount), h.Me)
	r.POST("/api/v1/auth/emergency-override", asAccount(operatorAccount), h.EmergencyOverride)
	return r
}

func operatorSession() *dto.Session {
	return &dto.Session{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		RefreshExpiresAt: time.Now().Add(7 * 24 * time.Hour),
		Account:          operatorAccount,
	}
}

func TestAuthHandlerLoginSetsStrictRefreshCookie(t *testing.T) {
	auth := &authServiceMock{session: operatorSession()}
	r := newAuthRouter(auth, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: "ops1", Password: "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data dto.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "access-1", body.Data.AccessToken)
	assert.Equal(t, models.RoleTrafficOperator, body.Data.Role)
	assert.Equal(t, "north", body.Data.Zone)
	assert.NotContains(t, w.Body.String(), "refresh-1")

	cookie := findCookie(w, "refresh_token")
	require.NotNil(t, cookie)
	assert.Equal(t, "refresh-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/api/v1/auth", cookie.Path)
	assert.Greater(t, cookie.MaxAge, 0)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestAuthHandlerLoginFailures(t *testing.T) {
	auth := &authServiceMock{loginErr: appErrors.ErrInvalidCredentials}
	r := newAuthRouter(auth, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/login", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(t, w))

	w = do(r, http.MethodPost, "/api/v1/auth/login", dto.LoginRequest{Username: "ops1", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, findCookie(w, "refresh_token"))
}

func TestAuthHandlerRefreshRotatesCookie(t *testing.T) {
	session := operatorSession()
	session.RefreshToken = "refresh-2"
	auth := &authServiceMock{session: session}
	r := newAuthRouter(auth, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/refresh", nil, &http.Cookie{Name: "refresh_token", Value: "refresh-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refresh-1", auth.gotRefresh)
	assert.Equal(t, "refresh-2", findCookie(w, "refresh_token").Value)

	var body struct {
		Data dto.RefreshResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ops1", body.Data.Username)
}

func TestAuthHandlerRefreshTheftClearsCookie(t *testing.T) {
	theft := appErrors.Wrap(errors.New("reused"), appErrors.ErrTokenTheft.Code, appErrors.ErrTokenTheft.Status, appErrors.ErrTokenTheft.Message)
	r := newAuthRouter(&authServiceMock{refreshErr: theft}, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/refresh", nil, &http.Cookie{Name: "refresh_token", Value: "stolen"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	cleared := findCookie(w, "refresh_token")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestAuthHandlerRefreshExpiredKeepsCookie(t *testing.T) {
	r := newAuthRouter(&authServiceMock{refreshErr: appErrors.ErrUnauthorized}, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, findCookie(w, "refresh_token"))
}

func TestAuthHandlerLogoutRevokesAndClears(t *testing.T) {
	auth := &authServiceMock{}
	r := newAuthRouter(auth, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/logout", nil, &http.Cookie{Name: "refresh_token", Value: "refresh-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, auth.loggedOut)
	assert.Equal(t, "jti-acc-1", auth.loggedOut.ID)
	assert.Equal(t, "refresh-1", auth.logoutToken)
	assert.Less(t, findCookie(w, "refresh_token").MaxAge, 0)
}

func TestAuthHandlerRegisterAndMe(t *testing.T) {
	r := newAuthRouter(&authServiceMock{}, &overrideMock{})

	w := do(r, http.MethodPost, "/api/v1/auth/register", dto.RegisterRequest{Username: "newop", Password: "long-enough-pass", PhoneNumber: "+6281234567890", Zone: "south"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/v1/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Contains(t, w.Body.String(), `"username":"ops1"`)
}

func TestAuthHandlerEmergencyOverride(t *testing.T) {
	r := newAuthRouter(&authServiceMock{}, &overrideMock{})
	w := do(r, http.MethodPost, "/api/v1/auth/emergency-override", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2026-03-10T09:00:00Z")

	r = newAuthRouter(&authServiceMock{}, &overrideMock{err: appErrors.ErrOverrideActive})
	w = do(r, http.MethodPost, "/api/v1/auth/emergency-override", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "OVERRIDE_ACTIVE", errorCode(t, w))
}

type assetServiceMock struct {
	module    models.Module
	id        string
	zone      string
	actor     service.Actor
	command   dto.AssetCommandRequest
	broadcast dto.BroadcastRequest
	err       error
}

func (m *assetServiceMock) List(_ context.Context, module models.Module, zone string) ([]models.Asset, error) {
	m.module, m.zone = module, zone
	return []models.Asset{{ID: "sig-n1", Module: module, Zone: "north"}}, m.err
}

func (m *assetServiceMock) Get(_ context.Context, module models.Module, id string) (*models.Asset, error) {
	m.module, m.id = module, id
	if m.err != nil {
		return nil, m.err
	}
	return &models.Asset{ID: id, Module: module, Zone: "north"}, nil
}

func (m *assetServiceMock) Command(_ context.Context, module models.Module, id string, req dto.AssetCommandRequest, actor service.Actor) (*models.Asset, error) {
	m.module, m.id, m.command, m.actor = module, id, req, actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.Asset{ID: id, Module: module, State: models.AssetState{req.Command: req.Value}}, nil
}

func (m *assetServiceMock) SignalOverride(_ context.Context, req dto.SignalOverrideRequest, actor service.Actor) (*models.Asset, error) {
	m.id, m.actor = req.SignalID, actor
	return &models.Asset{ID: req.SignalID, Module: models.ModuleTraffic}, m.err
}

func (m *assetServiceMock) Broadcast(_ context.Context, req dto.BroadcastRequest, actor service.Actor) error {
	m.broadcast, m.actor = req, actor
	return m.err
}

func TestAssetHandlerRoutesCarryModuleAndActor(t *testing.T) {
	assets := &assetServiceMock{}
	h := NewAssetHandler(assets)
	r := gin.New()
	r.GET("/lighting/assets", h.List(models.ModuleLighting))
	r.GET("/lighting/assets/:id", h.Get(models.ModuleLighting))
	r.POST("/lighting/assets/:id/commands", asAccount(operatorAccount), h.Command(models.ModuleLighting))

	w := do(r, http.MethodGet, "/lighting/assets?zone=north", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ModuleLighting, assets.module)
	assert.Equal(t, "north", assets.zone)

	w = do(r, http.MethodPost, "/lighting/assets/lamp-n1/commands", dto.AssetCommandRequest{Command: "brightness", Value: 80})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lamp-n1", assets.id)
	assert.Equal(t, "brightness", assets.command.Command)
	assert.Equal(t, service.Actor{AccountID: "acc-1", Username: "ops1", Zone: "north"}, assets.actor)
}

func TestAssetHandlerCommandRequiresAccount(t *testing.T) {
	h := NewAssetHandler(&assetServiceMock{})
	r := gin.New()
	r.POST("/traffic/assets/:id/commands", h.Command(models.ModuleTraffic))

	w := do(r, http.MethodPost, "/traffic/assets/sig-n1/commands", dto.AssetCommandRequest{Command: "phase"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/traffic/assets/sig-n1/commands", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssetHandlerGetMapsNotFound(t *testing.T) {
	h := NewAssetHandler(&assetServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "asset not found")})
	r := gin.New()
	r.GET("/water/assets/:id", h.Get(models.ModuleWater))

	w := do(r, http.MethodGet, "/water/assets/pump-x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "asset not found")
}

func TestAssetHandlerBroadcastAccepted(t *testing.T) {
	assets := &assetServiceMock{}
	h := NewAssetHandler(assets)
	r := gin.New()
	r.POST("/emergency/broadcasts", asAccount(operatorAccount), h.Broadcast)
	r.POST("/traffic/signal-overrides", asAccount(operatorAccount), h.SignalOverride)

	w := do(r, http.MethodPost, "/emergency/broadcasts", dto.BroadcastRequest{Zone: "north", Message: "evacuate"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "evacuate", assets.broadcast.Message)

	w = do(r, http.MethodPost, "/traffic/signal-overrides", dto.SignalOverrideRequest{SignalID: "sig-n1", Phase: "red"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sig-n1", assets.id)
}

type threatMock struct {
	state  *models.ThreatState
	inputs []service.ThreatEventInput
	limit  int
	err    error
}

func (m *threatMock) State(context.Context) (*models.ThreatState, error) { return m.state, m.err }

func (m *threatMock) RecentEvents(_ context.Context, limit int) ([]models.ThreatEvent, error) {
	m.limit = limit
	return []models.ThreatEvent{{Type: models.ThreatBruteForce, Severity: models.SeverityHigh}}, m.err
}

func (m *threatMock) RecordEvent(_ context.Context, input service.ThreatEventInput) (int, error) {
	m.inputs = append(m.inputs, input)
	return 20, m.err
}

func TestSecurityHandlerThreatState(t *testing.T) {
	threats := &threatMock{state: &models.ThreatState{Score: 85, Level: models.ThreatLevelLockdown}}
	h := NewSecurityHandler(threats, nil)
	r := gin.New()
	r.GET("/security/threat", h.ThreatState)
	r.GET("/security/events", h.RecentEvents)

	w := do(r, http.MethodGet, "/security/threat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"score":85,"level":"LOCKDOWN"}`, string(decodeEnvelope(t, w)["data"]))

	w = do(r, http.MethodGet, "/security/events?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, threats.limit)

	w = do(r, http.MethodGet, "/security/events?limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHoneypotRecordsHighEventAndHides(t *testing.T) {
	threats := &threatMock{}
	h := NewSecurityHandler(threats, nil)
	r := gin.New()
	r.Any("/.env", h.Honeypot)

	w := do(r, http.MethodGet, "/.env", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, threats.inputs, 1)
	assert.Equal(t, models.ThreatHoneypotAccess, threats.inputs[0].Type)
	assert.Equal(t, models.SeverityHigh, threats.inputs[0].Severity)
	assert.Equal(t, "/.env", threats.inputs[0].Endpoint)

	threats.err = errors.New("db down")
	w = do(r, http.MethodPost, "/.env", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type auditListerMock struct {
	filter models.AuditFilter
}

func (m *auditListerMock) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	m.filter = filter
	return []models.AuditLog{{ID: "log-1", Outcome: models.OutcomeDenied}}, &models.Pagination{Page: 2, PageSize: 10, TotalCount: 11}, nil
}

type exporterMock struct {
	actorID  string
	download *service.ExportDownload
	err      error
}

func (m *exporterMock) CreateJob(_ context.Context, req dto.AuditExportRequest, actorID string) (*dto.AuditExportStatusResponse, error) {
	m.actorID = actorID
	return &dto.AuditExportStatusResponse{ID: "job-1", Status: models.ExportStatusQueued}, m.err
}

func (m *exporterMock) GetStatus(_ context.Context, id string) (*dto.AuditExportStatusResponse, error) {
	if id != "job-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return &dto.AuditExportStatusResponse{ID: id, Status: models.ExportStatusProcessing}, nil
}

func (m *exporterMock) ResolveDownload(context.Context, string) (*service.ExportDownload, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.download, nil
}

func TestAuditHandlerListParsesFilter(t *testing.T) {
	lister := &auditListerMock{}
	h := NewAuditHandler(lister, &exporterMock{})
	r := gin.New()
	r.GET("/admin/audit", h.List)

	w := do(r, http.MethodGet, "/admin/audit?outcome=DENIED&from=2026-03-10T00:00:00Z&page=2&pageSize=10&accountId=acc-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OutcomeDenied, lister.filter.Outcome)
	assert.Equal(t, "acc-1", lister.filter.AccountID)
	require.NotNil(t, lister.filter.From)
	assert.Nil(t, lister.filter.To)
	assert.Equal(t, 2, lister.filter.Page)
	assert.JSONEq(t, `{"page":2,"page_size":10,"total_count":11}`, string(decodeEnvelope(t, w)["pagination"]))

	for _, query := range []string{"outcome=MAYBE", "from=yesterday", "page=-1", "pageSize=x"} {
		w = do(r, http.MethodGet, "/admin/audit?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestAuditHandlerExports(t *testing.T) {
	exporter := &exporterMock{}
	h := NewAuditHandler(&auditListerMock{}, exporter)
	r := gin.New()
	r.POST("/admin/audit/exports", asAccount(operatorAccount), h.CreateExport)
	r.GET("/admin/audit/exports/:id", h.ExportStatus)

	w := do(r, http.MethodPost, "/admin/audit/exports", dto.AuditExportRequest{Format: models.ExportFormatCSV})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "acc-1", exporter.actorID)

	w = do(r, http.MethodGet, "/admin/audit/exports/job-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.ExportStatusProcessing))

	w = do(r, http.MethodGet, "/admin/audit/exports/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.csv")
	require.NoError(t, os.WriteFile(path, []byte("Time,Account\n"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	exporter := &exporterMock{download: &service.ExportDownload{File: file, Filename: "audit.csv", ContentType: "text/csv"}}
	h := NewAuditHandler(&auditListerMock{}, exporter)
	r := gin.New()
	r.GET("/downloads/:token", h.Download)

	w := do(r, http.MethodGet, "/downloads/tok", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Time,Account\n", w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="audit.csv"`, w.Header().Get("Content-Disposition"))

	exporter.err = appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	w = do(r, http.MethodGet, "/downloads/tok", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingerFunc(func(context.Context) error { return nil }),
		"redis":    PingerFunc(func(context.Context) error { return errors.New("refused") }),
	})
	r := gin.New()
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)

	w := do(r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"up","redis":"down"}}`, w.Body.String())

	w = do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegisterRoutesMountsEverything(t *testing.T) {
	threats := &threatMock{}
	r := gin.New()
	RegisterRoutes(r, Routes{
		APIPrefix: "/api/v1/",
		Auth:      NewAuthHandler(&authServiceMock{}, &overrideMock{}, config.CookieConfig{}),
		Assets:    NewAssetHandler(&assetServiceMock{}),
		Security:  NewSecurityHandler(threats, nil),
		Audit:     NewAuditHandler(&auditListerMock{}, &exporterMock{}),
		Metrics:   NewMetricsHandler(service.NewMetricsService(), nil),
	})

	mounted := map[string]bool{}
	for _, route := range r.Routes() {
		mounted[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/emergency-override",
		"GET /api/v1/power/assets/:id",
		"POST /api/v1/lighting/assets/:id/commands",
		"POST /api/v1/traffic/signal-overrides",
		"POST /api/v1/emergency/broadcasts",
		"GET /api/v1/security/threat",
		"GET /api/v1/admin/audit",
		"GET /api/v1/downloads/:token",
		"GET /metrics",
		"GET /wp-login.php",
	} {
		assert.True(t, mounted[want], want)
	}

	w := do(r, http.MethodGet, "/wp-login.php", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, threats.inputs, 1)

	w = do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "ok"))
}
