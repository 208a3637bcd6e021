package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/internal/service"
	appErrors "github.com/campushub/campus-api/pkg/errors"
	"github.com/campushub/campus-api/pkg/response"
)

// AdminHandler wires the role authority and security views to HTTP.
type AdminHandler struct {
	roles    *service.RoleService
	users    *service.UserService
	auth     *service.AuthService
	security *service.SecurityService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(roles *service.RoleService, users *service.UserService, auth *service.AuthService, security *service.SecurityService) *AdminHandler {
	return &AdminHandler{roles: roles, users: users, auth: auth, security: security}
}

// Promote godoc
// @Summary Promote user
// @Description Grant a role to a user; admin and superadmin grants require superadmin authority
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.PromoteRequest true "Promote payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/roles/promote [post]
// @Security BearerAuth
func (h *AdminHandler) Promote(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	var req models.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid promote payload"))
		return
	}

	if err := h.roles.Promote(c.Request.Context(), claims.Principal(), req, deviceFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// DemoteAdmin godoc
// @Summary Demote admin
// @Description Strip admin authority from a user
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.DemoteRequest true "Demote payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/roles/demote-admin [post]
// @Security BearerAuth
func (h *AdminHandler) DemoteAdmin(c *gin.Context) {
	h.demote(c, h.roles.DemoteAdmin)
}

// RemoveSuperAdmin godoc
// @Summary Remove superadmin
// @Description Demote a superadmin one step, to admin
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.DemoteRequest true "Demote payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/roles/remove-superadmin [post]
// @Security BearerAuth
func (h *AdminHandler) RemoveSuperAdmin(c *gin.Context) {
	h.demote(c, h.roles.RemoveSuperAdmin)
}

// RemoveCounselor godoc
// @Summary Remove counselor
// @Description Strip the counselor role from a user
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body models.DemoteRequest true "Demote payload"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/roles/remove-counselor [post]
// @Security BearerAuth
func (h *AdminHandler) RemoveCounselor(c *gin.Context) {
	h.demote(c, h.roles.RemoveCounselor)
}

func (h *AdminHandler) demote(c *gin.Context, op func(ctx context.Context, actor models.Principal, targetID string, device models.DeviceInfo) error) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	var req models.DemoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := op(c.Request.Context(), claims.Principal(), req.UserID, deviceFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListUsers godoc
// @Summary List users
// @Description List users with role filter and pagination
// @Tags Admin
// @Produce json
// @Param role query string false "Filter by role"
// @Param search query string false "Search name or email"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users [get]
// @Security BearerAuth
func (h *AdminHandler) ListUsers(c *gin.Context) {
	filter := models.UserFilter{
		Search:    c.Query("search"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	if raw := c.Query("role"); raw != "" {
		role := models.UserRole(raw)
		if !role.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown role"))
			return
		}
		filter.Role = &role
	}

	users, pagination, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// GetUser godoc
// @Summary Get user
// @Description Fetch a single user by id
// @Tags Admin
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{id} [get]
// @Security BearerAuth
func (h *AdminHandler) GetUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, user, nil)
}

// RevokeUserSessions godoc
// @Summary Revoke user credentials
// @Description Revoke all refresh tokens of a user and destroy their session
// @Tags Admin
// @Produce json
// @Param id path string true "User ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{id}/revoke-sessions [post]
// @Security BearerAuth
func (h *AdminHandler) RevokeUserSessions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrNoToken)
		return
	}

	targetID := c.Param("id")
	if err := h.auth.ForceRevoke(c.Request.Context(), targetID, claims.UserID, deviceFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// SecurityEvents godoc
// @Summary List security events
// @Description List recorded security events with filters
// @Tags Admin
// @Produce json
// @Param severity query string false "Severity LOW|MEDIUM|HIGH"
// @Param kind query string false "Event kind"
// @Param user_id query string false "Subject user id"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "Max rows"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/security-events [get]
// @Security BearerAuth
func (h *AdminHandler) SecurityEvents(c *gin.Context) {
	filter, err := securityFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	events, err := h.security.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, events, nil)
}

// ExportSecurityEvents godoc
// @Summary Export security events
// @Description Export security events as CSV or PDF
// @Tags Admin
// @Produce application/octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /admin/security-events/export [get]
// @Security BearerAuth
func (h *AdminHandler) ExportSecurityEvents(c *gin.Context) {
	filter, err := securityFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.security.Export(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("security-events-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}

// ArchiveSecurityEvents godoc
// @Summary Archive security events
// @Description Store an export on disk and return a signed download token
// @Tags Admin
// @Produce json
// @Param format query string false "csv or pdf" default(csv)
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/security-events/archive [post]
// @Security BearerAuth
func (h *AdminHandler) ArchiveSecurityEvents(c *gin.Context) {
	filter, err := securityFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	report, err := h.security.Archive(c.Request.Context(), filter, c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusCreated, report, nil)
}

// DownloadReport godoc
// @Summary Download archived report
// @Description Fetch a stored report with a signed token; the token is the credential
// @Tags Admin
// @Produce application/octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /reports/download [get]
func (h *AdminHandler) DownloadReport(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	payload, contentType, filename, err := h.security.Fetch(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}

func securityFilter(c *gin.Context) (models.SecurityEventFilter, error) {
	filter := models.SecurityEventFilter{
		Kind:   c.Query("kind"),
		UserID: c.Query("user_id"),
		Limit:  queryInt(c, "limit", 0),
	}
	if raw := c.Query("severity"); raw != "" {
		severity := models.Severity(raw)
		filter.Severity = &severity
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "since must be RFC3339")
		}
		filter.Since = &since
	}
	return filter, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
