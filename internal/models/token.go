package models

import "time"

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonRefreshed         = "Refreshed"
	RevokeReasonLogout            = "Logout"
	RevokeReasonLogoutAll         = "LogoutAll"
	RevokeReasonSecurityViolation = "SecurityViolation"
	RevokeReasonAdminRevoked      = "AdminRevoked"
	RevokeReasonAccountDeleted    = "AccountDeleted"
)

// RefreshToken is the persisted record of an issued refresh token. Only the
// SHA-256 hash of the raw token is stored; the raw value exists nowhere
// server-side after issuance.
type RefreshToken struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	TokenHash     string     `db:"token_hash" json:"-"`
	Fingerprint   string     `db:"fingerprint" json:"-"`
	UserAgent     string     `db:"user_agent" json:"user_agent"`
	IP            string     `db:"ip" json:"ip"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	IsRevoked     bool       `db:"is_revoked" json:"is_revoked"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason *string    `db:"revoked_reason" json:"revoked_reason,omitempty"`
}

// Live reports whether the token may still be exchanged.
func (t *RefreshToken) Live(now time.Time) bool {
	return t != nil && !t.IsRevoked && now.Before(t.ExpiresAt)
}
