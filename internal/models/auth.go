package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campushub/campus-api/pkg/fingerprint"
)

// DeviceInfo carries the device signals a client presents with each auth
// request. UserAgent and IP are taken from the request itself; the rest
// arrive in X-Device-* headers and are optional.
type DeviceInfo struct {
	UserAgent        string `json:"-"`
	IP               string `json:"-"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
}

// Signals converts the device info into fingerprint input.
func (d DeviceInfo) Signals() fingerprint.Signals {
	return fingerprint.Signals{
		UserAgent:        d.UserAgent,
		IP:               d.IP,
		ScreenResolution: d.ScreenResolution,
		Timezone:         d.Timezone,
		Language:         d.Language,
		Platform:         d.Platform,
	}
}

// RegisterRequest creates a password-provider account.
type RegisterRequest struct {
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required,min=8"`
	Name     string     `json:"name" validate:"required"`
	Device   DeviceInfo `json:"device"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string     `json:"email" validate:"required,email"`
	Password string     `json:"password" validate:"required"`
	Device   DeviceInfo `json:"device"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string     `json:"refresh_token" validate:"required"`
	Device       DeviceInfo `json:"device"`
}

// LogoutRequest revokes the presented refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenPair returns issued credentials. SessionID equals the user id by
// construction and is included for client observability only.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	SessionID    string    `json:"session_id"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	TokenPair
	User UserInfo `json:"user"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	Name          string   `json:"name"`
	Role          UserRole `json:"role"`
	EmailVerified bool     `json:"email_verified"`
}

// AccessClaims is the JWT payload of access tokens. Fingerprint ties the
// token to the device that received it.
type AccessClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Fingerprint   string   `json:"fingerprint"`
	jwt.RegisteredClaims
}

// Principal derives the request principal from verified claims.
func (c *AccessClaims) Principal() Principal {
	return Principal{ID: c.UserID, Role: c.Role, EmailVerified: c.EmailVerified}
}

// UpdateProfileRequest mutates profile fields of the current user.
type UpdateProfileRequest struct {
	Name     string `json:"name" validate:"required"`
	AvatarID string `json:"avatar_id"`
}

// PromoteRequest assigns a new role to a target user.
type PromoteRequest struct {
	UserID string   `json:"user_id" validate:"required"`
	Role   UserRole `json:"role" validate:"required,oneof=user counselor admin superadmin"`
}

// DemoteRequest strips a role from a target user.
type DemoteRequest struct {
	UserID string `json:"user_id" validate:"required"`
}
