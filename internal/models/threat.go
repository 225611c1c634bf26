package models

import "time"

// Severity classifies a threat event; each level maps to a fixed score delta.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Delta returns the global threat score increment for s.
func (s Severity) Delta() int {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 10
	case SeverityHigh:
		return 20
	case SeverityCritical:
		return 40
	default:
		return 0
	}
}

// ThreatEventType is the closed taxonomy of security events.
type ThreatEventType string

const (
	ThreatBruteForce          ThreatEventType = "brute_force"
	ThreatPrivilegeEscalation ThreatEventType = "privilege_escalation"
	ThreatImpossibleTravel    ThreatEventType = "impossible_travel"
	ThreatRateLimitBreach     ThreatEventType = "rate_limit_breach"
	ThreatHoneypotAccess      ThreatEventType = "honeypot_access"
	ThreatTokenReuse          ThreatEventType = "token_reuse"
	ThreatFingerprintMismatch ThreatEventType = "token_fingerprint_mismatch"
	ThreatLowTrustLogin       ThreatEventType = "low_trust_login"
)

// Valid reports whether t belongs to the taxonomy.
func (t ThreatEventType) Valid() bool {
	switch t {
	case ThreatBruteForce, ThreatPrivilegeEscalation, ThreatImpossibleTravel, ThreatRateLimitBreach,
		ThreatHoneypotAccess, ThreatTokenReuse, ThreatFingerprintMismatch, ThreatLowTrustLogin:
		return true
	}
	return false
}

// ThreatEvent is an immutable security event record.
type ThreatEvent struct {
	ID        string          `db:"id" json:"id"`
	Type      ThreatEventType `db:"type" json:"type"`
	Severity  Severity        `db:"severity" json:"severity"`
	AccountID *string         `db:"account_id" json:"accountId,omitempty"`
	Endpoint  string          `db:"endpoint" json:"endpoint"`
	IP        string          `db:"ip" json:"ip"`
	Detail    string          `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// GlobalThreatScore is the name of the single process-wide score row.
const GlobalThreatScore = "global"

// ThreatLevel is the policy state derived from the global score.
type ThreatLevel string

const (
	ThreatLevelNormal     ThreatLevel = "NORMAL"
	ThreatLevelLockdown   ThreatLevel = "LOCKDOWN"
	ThreatLevelRestricted ThreatLevel = "RESTRICTED"
)

// ThreatState is a point-in-time view of the global score.
type ThreatState struct {
	Score int         `json:"score"`
	Level ThreatLevel `json:"level"`
}
