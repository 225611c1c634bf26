package dto

import (
	"time"

	"github.com/noah-isme/citygrid-api/internal/models"
)

// LoginRequest captures POST /auth/login payload.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// RegisterRequest captures POST /auth/register payload.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password    string `json:"password" validate:"required,min=10,max=128"`
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
	Zone        string `json:"zone" validate:"required,max=64"`
}

// VerifyPhoneRequest captures POST /auth/verify-phone payload.
type VerifyPhoneRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// ClientContext describes the network origin of a request; it feeds fingerprints,
// geo lookups and audit entries.
type ClientContext struct {
	IP        string
	UserAgent string
	DeviceID  string
	Endpoint  string
	Method    string
}

// LoginResponse is returned by login.
type LoginResponse struct {
	AccessToken string      `json:"accessToken"`
	Role        models.Role `json:"role"`
	Zone        string      `json:"zone"`
}

// RefreshResponse is returned by refresh.
type RefreshResponse struct {
	AccessToken string      `json:"accessToken"`
	Role        models.Role `json:"role"`
	Zone        string      `json:"zone"`
	Username    string      `json:"username"`
}

// Session is the service-level result of login/refresh, carrying the refresh
// token for the cookie alongside the response body.
type Session struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          *models.Account
}

// RegisterResponse is returned after registration.
type RegisterResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	Zone     string      `json:"zone"`
}

// OverrideResponse is returned after an emergency override grant.
type OverrideResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}
