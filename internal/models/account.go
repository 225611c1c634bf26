package models

import "time"

// Role is a permission tier. Roles map to modules and actions through the permission table.
type Role string

const (
	RoleSuperAdmin         Role = "SUPER_ADMIN"
	RoleTrafficOperator    Role = "TRAFFIC_OPERATOR"
	RoleUtilityOperator    Role = "UTILITY_OPERATOR"
	RoleEmergencyResponder Role = "EMERGENCY_RESPONDER"
	RoleAnalyst            Role = "ANALYST"

	// RoleLegacyAdmin is accepted on input only and resolves to RoleSuperAdmin.
	RoleLegacyAdmin Role = "ADMIN"
)

// MinTrustScore and MaxTrustScore bound Account.TrustScore.
const (
	MinTrustScore     = 0
	MaxTrustScore     = 100
	DefaultTrustScore = 100
)

// Account represents an operator stored in the accounts table.
type Account struct {
	ID                string     `db:"id" json:"id"`
	Username          string     `db:"username" json:"username"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	Role              Role       `db:"role" json:"role"`
	Zone              string     `db:"zone" json:"zone"`
	PhoneNumber       string     `db:"phone_number" json:"-"`
	PhoneVerified     bool       `db:"phone_verified" json:"phoneVerified"`
	TrustScore        int        `db:"trust_score" json:"trustScore"`
	FailedLoginCount  int        `db:"failed_login_count" json:"-"`
	Locked            bool       `db:"locked" json:"locked"`
	LastLoginIP       *string    `db:"last_login_ip" json:"-"`
	LastLoginCountry  *string    `db:"last_login_country" json:"lastLoginCountry,omitempty"`
	LastLoginLat      *float64   `db:"last_login_lat" json:"-"`
	LastLoginLon      *float64   `db:"last_login_lon" json:"-"`
	LastLoginAt       *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	LastLoginDeviceID *string    `db:"last_login_device_id" json:"-"`
	OverrideExpiresAt *time.Time `db:"override_expires_at" json:"overrideExpiresAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updatedAt"`
}

// HasActiveOverride reports whether an emergency override grant is still open at now.
func (a *Account) HasActiveOverride(now time.Time) bool {
	return a.OverrideExpiresAt != nil && a.OverrideExpiresAt.After(now)
}

// LoginRecord captures where and from what device a login happened.
type LoginRecord struct {
	IP       string
	Country  string
	Lat      float64
	Lon      float64
	Located  bool
	DeviceID string
	At       time.Time
}

// PreviousLogin returns the last recorded login, or nil when the account never logged in.
func (a *Account) PreviousLogin() *LoginRecord {
	if a.LastLoginAt == nil {
		return nil
	}
	rec := &LoginRecord{At: *a.LastLoginAt}
	if a.LastLoginIP != nil {
		rec.IP = *a.LastLoginIP
	}
	if a.LastLoginCountry != nil {
		rec.Country = *a.LastLoginCountry
	}
	if a.LastLoginDeviceID != nil {
		rec.DeviceID = *a.LastLoginDeviceID
	}
	if a.LastLoginLat != nil && a.LastLoginLon != nil {
		rec.Lat, rec.Lon, rec.Located = *a.LastLoginLat, *a.LastLoginLon, true
	}
	return rec
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
