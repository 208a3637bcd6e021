package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/internal/service"
	appErrors "github.com/campushub/campus-api/pkg/errors"
	"github.com/campushub/campus-api/pkg/fingerprint"
	"github.com/campushub/campus-api/pkg/response"
)

// ContextUserKey is the gin context key storing verified access claims.
const ContextUserKey = "currentUser"

// ContextDeviceKey is the gin context key storing the request's device info.
const ContextDeviceKey = "deviceInfo"

// Device assembles the device signals from the request. UserAgent and IP
// come from the request itself; the rest from optional X-Device-* headers.
func Device(c *gin.Context) models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent:        c.GetHeader("User-Agent"),
		IP:               c.ClientIP(),
		ScreenResolution: c.GetHeader("X-Device-Screen"),
		Timezone:         c.GetHeader("X-Device-Timezone"),
		Language:         c.GetHeader("X-Device-Language"),
		Platform:         c.GetHeader("X-Device-Platform"),
	}
}

// Auth protects routes: it validates the bearer token, re-derives the
// device fingerprint and checks it against the single active session, and
// rejects disabled accounts. A fingerprint mismatch rejects the request but
// never destroys the session, so a forged request cannot evict the
// legitimate device.
func Auth(authService *service.AuthService, sessionService *service.SessionService, userService *service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrNoToken)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrInvalidTokenFormat, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		device := Device(c)
		c.Set(ContextDeviceKey, device)

		// The fingerprint is recomputed with the token's issue time so a
		// valid token keeps working across the UTC day boundary.
		presented := fingerprint.Compute(device.Signals(), claims.IssuedAt.Time)

		status, err := sessionService.Validate(c.Request.Context(), claims.UserID, presented, device)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		switch status {
		case models.SessionValid:
		case models.SessionExpired:
			response.Error(c, appErrors.Clone(appErrors.ErrTokenExpired, "session expired"))
			c.Abort()
			return
		case models.SessionFingerprintMismatch:
			response.Error(c, appErrors.ErrSessionMismatch)
			c.Abort()
			return
		default:
			// A valid token without a session record recreates it lazily.
			if _, err := sessionService.Ensure(c.Request.Context(), claims.UserID, device, presented); err != nil {
				response.Error(c, err)
				c.Abort()
				return
			}
		}

		user, err := userService.Get(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrTokenExpired, "account no longer exists"))
			c.Abort()
			return
		}
		if !user.Usable() {
			response.Error(c, appErrors.ErrAccountDisabled)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}
