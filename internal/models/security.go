package models

import "time"

// Severity grades security events.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Security event kinds.
const (
	EventFingerprintMismatch   = "FINGERPRINT_MISMATCH"
	EventRefreshTokenTheft     = "REFRESH_TOKEN_THEFT"
	EventPrivilegeEscalation   = "PRIVILEGE_ESCALATION_ATTEMPT"
	EventSelfModification      = "SELF_MODIFICATION_ATTEMPT"
	EventMembershipKeyMismatch = "MEMBERSHIP_KEY_MISMATCH"
	EventForcedRevocation      = "FORCED_REVOCATION"
	EventRoleDenied            = "ROLE_ACCESS_DENIED"
)

// SecurityEvent records a suspected attack or policy violation. HIGH events
// accompany containment actions (mass revocation, session destruction);
// MEDIUM events record denied requests.
type SecurityEvent struct {
	ID        string    `db:"id" json:"id"`
	Severity  Severity  `db:"severity" json:"severity"`
	Kind      string    `db:"kind" json:"kind"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	Detail    []byte    `db:"detail" json:"detail,omitempty"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SecurityEventFilter narrows event listings.
type SecurityEventFilter struct {
	Severity *Severity
	Kind     string
	UserID   string
	Since    *time.Time
	Limit    int
}
