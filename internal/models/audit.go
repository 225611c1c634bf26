package models

import "time"

// Outcome is the terminal result of a gatekeeper decision.
type Outcome string

const (
	OutcomeAllowed Outcome = "ALLOWED"
	OutcomeDenied  Outcome = "DENIED"
)

// AuditLog is an immutable access decision record.
type AuditLog struct {
	ID              string    `db:"id" json:"id"`
	AccountID       *string   `db:"account_id" json:"accountId,omitempty"`
	Username        string    `db:"username" json:"username"`
	Role            string    `db:"role" json:"role"`
	Endpoint        string    `db:"endpoint" json:"endpoint"`
	Method          string    `db:"method" json:"method"`
	Outcome         Outcome   `db:"outcome" json:"outcome"`
	Reason          string    `db:"reason" json:"reason"`
	DeviceID        string    `db:"device_id" json:"deviceId"`
	IP              string    `db:"ip" json:"ip"`
	SuppressedCount int       `db:"suppressed_count" json:"suppressedCount"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// AuditFilter narrows audit listings and exports.
type AuditFilter struct {
	AccountID string     `json:"accountId,omitempty"`
	Outcome   Outcome    `json:"outcome,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Page      int        `json:"-"`
	PageSize  int        `json:"-"`
}
