package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	"github.com/noah-isme/citygrid-api/pkg/config"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

type authService interface {
	Register(ctx context.Context, req dto.RegisterRequest) (*dto.RegisterResponse, error)
	VerifyPhone(ctx context.Context, req dto.VerifyPhoneRequest) error
	Login(ctx context.Context, req dto.LoginRequest, client dto.ClientContext) (*dto.Session, error)
	Refresh(ctx context.Context, refreshToken string, client dto.ClientContext) (*dto.Session, error)
	Logout(ctx context.Context, claims *models.AccessClaims, refreshToken string, client dto.ClientContext) error
	Me(ctx context.Context, accountID string) (*models.Account, error)
}

type overrideRequester interface {
	Request(ctx context.Context, accountID string, client dto.ClientContext) (*dto.OverrideResponse, error)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth      authService
	overrides overrideRequester
	cookie    config.CookieConfig
}

// NewAuthHandler constructs a new AuthHandler.
func NewAuthHandler(auth authService, overrides overrideRequester, cookie config.CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{auth: auth, overrides: overrides, cookie: cookie}
}

// Register godoc
// @Summary Register account
// @Description Create an unverified ANALYST account and send a phone verification code
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body dto.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// VerifyPhone godoc
// @Summary Verify phone number
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body dto.VerifyPhoneRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /auth/verify-phone [post]
func (h *AuthHandler) VerifyPhone(c *gin.Context) {
	var req dto.VerifyPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid verification payload"))
		return
	}
	if err := h.auth.VerifyPhone(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "phone verified"}, nil)
}

// Login godoc
// @Summary Login
// @Description Authenticate with username and password. The refresh token is set as an HttpOnly cookie.
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body dto.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	session, err := h.auth.Login(c.Request.Context(), req, middleware.ClientContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.setRefreshCookie(c, session.RefreshToken, session.RefreshExpiresAt)
	response.JSON(c, http.StatusOK, dto.LoginResponse{
		AccessToken: session.AccessToken,
		Role:        session.Account.Role,
		Zone:        session.Account.Zone,
	}, nil)
}

// Refresh godoc
// @Summary Refresh access token
// @Description Rotate the refresh cookie and issue a new access token
// @Tags Auth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, _ := c.Cookie(h.cookie.Name)
	session, err := h.auth.Refresh(c.Request.Context(), token, middleware.ClientContext(c))
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenTheft) {
			h.clearRefreshCookie(c)
		}
		response.Error(c, err)
		return
	}
	h.setRefreshCookie(c, session.RefreshToken, session.RefreshExpiresAt)
	response.JSON(c, http.StatusOK, dto.RefreshResponse{
		AccessToken: session.AccessToken,
		Role:        session.Account.Role,
		Zone:        session.Account.Zone,
		Username:    session.Account.Username,
	}, nil)
}

// Logout godoc
// @Summary Logout
// @Description Revoke the current access token and the refresh cookie
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, _ := c.Cookie(h.cookie.Name)
	err := h.auth.Logout(c.Request.Context(), claims, token, middleware.ClientContext(c))
	h.clearRefreshCookie(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "logged out"}, nil)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c *gin.Context) {
	account := middleware.CurrentAccount(c)
	if account == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.auth.Me(c.Request.Context(), account.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// EmergencyOverride godoc
// @Summary Request emergency override
// @Description Grant a short-lived override that admits the caller during lockdown
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /auth/emergency-override [post]
func (h *AuthHandler) EmergencyOverride(c *gin.Context) {
	account := middleware.CurrentAccount(c)
	if account == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.overrides.Request(c.Request.Context(), account.ID, middleware.ClientContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, token, maxAge, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

var _ authService = (*service.AuthService)(nil)
