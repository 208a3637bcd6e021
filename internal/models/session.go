package models

import "time"

// Session is the single live session for a user. The record is keyed by the
// user id itself (no separate session id namespace): access to a session is
// granted only to the matching user id, which is the authorization anchor.
type Session struct {
	UserID      string    `db:"user_id" json:"user_id"`
	Fingerprint string    `db:"fingerprint" json:"-"`
	UserAgent   string    `db:"user_agent" json:"user_agent"`
	IP          string    `db:"ip" json:"ip"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	LastActive  time.Time `db:"last_active" json:"last_active"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
}

// SessionStatus is the outcome of validating a session against a presented
// fingerprint.
type SessionStatus int

const (
	SessionValid SessionStatus = iota
	SessionNotFound
	// SessionExpired means the inactivity timeout elapsed; the record is
	// deleted and the caller must re-authenticate.
	SessionExpired
	// SessionFingerprintMismatch means the presented fingerprint differs
	// from the stored one. The record is intentionally NOT deleted: an
	// attacker replaying mismatched requests must not be able to evict the
	// legitimate session.
	SessionFingerprintMismatch
)

func (s SessionStatus) String() string {
	switch s {
	case SessionValid:
		return "valid"
	case SessionNotFound:
		return "not_found"
	case SessionExpired:
		return "expired"
	case SessionFingerprintMismatch:
		return "fingerprint_mismatch"
	}
	return "unknown"
}
