package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campushub/campus-api/internal/middleware"
	"github.com/campushub/campus-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}

func deviceFromContext(c *gin.Context) models.DeviceInfo {
	if value, exists := c.Get(middleware.ContextDeviceKey); exists {
		if device, ok := value.(models.DeviceInfo); ok {
			return device
		}
	}
	return middleware.Device(c)
}
