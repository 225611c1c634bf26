package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshToken is a persisted link in a rotation chain.
type RefreshToken struct {
	JTI         string     `db:"jti" json:"jti"`
	AccountID   string     `db:"account_id" json:"account_id"`
	Fingerprint string     `db:"fingerprint" json:"-"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	Revoked     bool       `db:"revoked" json:"revoked"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Revocation reasons stored with RevokedToken.
const (
	RevokeReasonLogout = "logout"
)

// RevokedToken is the durable log row for a revoked access token.
type RevokedToken struct {
	JTI       string    `db:"jti" json:"jti"`
	AccountID string    `db:"account_id" json:"account_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Reason    string    `db:"reason" json:"reason"`
	RevokedAt time.Time `db:"revoked_at" json:"revoked_at"`
}

// AccessClaims is the payload of an access token. Subject carries the account id.
type AccessClaims struct {
	Role Role   `json:"role"`
	Zone string `json:"zone"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Subject carries the account id.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or a successful rotation.
type TokenPair struct {
	AccessToken   string
	AccessClaims  *AccessClaims
	RefreshToken  string
	RefreshRecord *RefreshToken
	Account       *Account
}
