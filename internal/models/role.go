package models

import "time"

// RoleMembership is a record in one of the role collections (admins,
// superadmins, counselors). Existence of a record is the authorization
// predicate for the role. The record key (ID) must equal the internal
// UserID; a mismatch is treated as non-membership and flagged as a
// security anomaly, never trusted.
type RoleMembership struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	GrantedBy string    `db:"granted_by" json:"granted_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Consistent reports whether the record key matches the user it claims to
// authorize.
func (m *RoleMembership) Consistent() bool {
	return m != nil && m.ID != "" && m.ID == m.UserID
}

// MembershipCollection returns the table backing a role's membership
// records, or "" for roles without one.
func MembershipCollection(role UserRole) string {
	switch role {
	case RoleAdmin:
		return "admins"
	case RoleSuperAdmin:
		return "superadmins"
	case RoleCounselor:
		return "counselors"
	}
	return ""
}
