package models

import "time"

// UserRole represents the available roles. Exactly one role per user; the
// roles admin, superadmin and counselor additionally require a membership
// record (see RoleMembership), which is the authoritative source.
type UserRole string

const (
	RoleUser       UserRole = "user"
	RoleCounselor  UserRole = "counselor"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "superadmin"
)

// Valid reports whether the role is one of the known values.
func (r UserRole) Valid() bool {
	switch r {
	case RoleUser, RoleCounselor, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// AuthProvider identifies how the account authenticates.
type AuthProvider string

const (
	ProviderPassword AuthProvider = "password"
	ProviderGoogle   AuthProvider = "google"
)

// User represents an application user stored in the users table. Users are
// never hard-deleted; DeletedAt marks soft deletion and Disabled blocks
// authentication without destroying the record.
type User struct {
	ID            string       `db:"id" json:"id"`
	Email         string       `db:"email" json:"email"`
	PasswordHash  string       `db:"password_hash" json:"-"`
	Name          string       `db:"name" json:"name"`
	Role          UserRole     `db:"role" json:"role"`
	AvatarID      string       `db:"avatar_id" json:"avatar_id,omitempty"`
	EmailVerified bool         `db:"email_verified" json:"email_verified"`
	Provider      AuthProvider `db:"provider" json:"provider"`
	Disabled      bool         `db:"disabled" json:"disabled"`
	DeletedAt     *time.Time   `db:"deleted_at" json:"-"`
	LastActive    *time.Time   `db:"last_active" json:"last_active,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// Usable reports whether the account may authenticate.
func (u *User) Usable() bool {
	return u != nil && !u.Disabled && u.DeletedAt == nil
}

// Principal is the immutable authenticated identity attached to a request
// after the middleware has verified token and session. It is passed by
// value; nothing downstream mutates it.
type Principal struct {
	ID            string   `json:"id"`
	Role          UserRole `json:"role"`
	EmailVerified bool     `json:"email_verified"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
