package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/pkg/database"
	appErrors "github.com/campushub/campus-api/pkg/errors"
)

type roleRepository interface {
	GetMembership(ctx context.Context, role models.UserRole, userID string) (*models.RoleMembership, error)
	ChangeRole(ctx context.Context, userID string, oldRole, newRole models.UserRole, grantedBy string) error
}

type roleUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type credentialRevoker interface {
	RevokeAllAndTerminate(ctx context.Context, userID, reason string) error
}

// RoleService is the role authority. Membership records, not the
// denormalized users.role field, are the source of truth for every
// authorization check, and a record only counts when its key matches the
// user it claims to grant.
type RoleService struct {
	roles    roleRepository
	users    roleUserRepository
	tokens   credentialRevoker
	sessions *SessionService
	security *SecurityService
	logger   *zap.Logger
}

// NewRoleService constructs a RoleService instance.
func NewRoleService(roles roleRepository, users roleUserRepository, tokens credentialRevoker, sessions *SessionService, security *SecurityService, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleService{
		roles:    roles,
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		security: security,
		logger:   logger,
	}
}

// IsSuperAdmin reports whether the user holds a consistent superadmin
// membership record.
func (s *RoleService) IsSuperAdmin(ctx context.Context, userID string) bool {
	return s.holdsMembership(ctx, models.RoleSuperAdmin, userID)
}

// IsAdmin reports whether the user holds admin authority. Superadmins
// qualify implicitly.
func (s *RoleService) IsAdmin(ctx context.Context, userID string) bool {
	if s.holdsMembership(ctx, models.RoleSuperAdmin, userID) {
		return true
	}
	return s.holdsMembership(ctx, models.RoleAdmin, userID)
}

// IsCounselor reports whether the user holds a counselor membership record.
func (s *RoleService) IsCounselor(ctx context.Context, userID string) bool {
	return s.holdsMembership(ctx, models.RoleCounselor, userID)
}

// holdsMembership checks the role's collection for a record keyed by the
// user id. A record whose user_id disagrees with its key is treated as
// crafted data: it is rejected and reported, never honored.
func (s *RoleService) holdsMembership(ctx context.Context, role models.UserRole, userID string) bool {
	membership, err := s.roles.GetMembership(ctx, role, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("membership lookup failed",
				zap.String("role", string(role)),
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return false
	}

	if !membership.Consistent() {
		s.security.Record(ctx, &models.SecurityEvent{
			Severity: models.SeverityHigh,
			Kind:     models.EventMembershipKeyMismatch,
			UserID:   &userID,
			Detail: Detail(map[string]interface{}{
				"role":           string(role),
				"record_user_id": membership.UserID,
			}),
		})
		return false
	}

	return true
}

// Promote assigns a higher role to the target user. Granting admin or
// superadmin requires superadmin authority; granting counselor requires
// admin authority. Actors never change their own role.
func (s *RoleService) Promote(ctx context.Context, actor models.Principal, req models.PromoteRequest, device models.DeviceInfo) error {
	if actor.ID == req.UserID {
		s.recordSelfModification(ctx, actor.ID, string(req.Role), device)
		return appErrors.ErrSelfModification
	}

	switch req.Role {
	case models.RoleAdmin, models.RoleSuperAdmin:
		if !s.IsSuperAdmin(ctx, actor.ID) {
			s.recordEscalation(ctx, actor, req.UserID, req.Role, device)
			return appErrors.ErrInsufficientRole
		}
	case models.RoleCounselor:
		if !s.IsAdmin(ctx, actor.ID) {
			s.recordEscalation(ctx, actor, req.UserID, req.Role, device)
			return appErrors.ErrInsufficientRole
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "role cannot be granted")
	}

	target, err := s.loadTarget(ctx, req.UserID)
	if err != nil {
		return err
	}
	if target.Role == req.Role {
		return appErrors.Clone(appErrors.ErrConflict, "user already holds role")
	}
	if target.Role == models.RoleSuperAdmin && !s.IsSuperAdmin(ctx, actor.ID) {
		s.recordEscalation(ctx, actor, req.UserID, req.Role, device)
		return appErrors.ErrInsufficientRole
	}

	return s.changeRole(ctx, actor, target, req.Role, device)
}

// DemoteAdmin strips admin authority, returning the target to a plain
// user. Superadmins cannot be demoted through this path; strip the
// superadmin grant first.
func (s *RoleService) DemoteAdmin(ctx context.Context, actor models.Principal, targetID string, device models.DeviceInfo) error {
	if actor.ID == targetID {
		s.recordSelfModification(ctx, actor.ID, "demote_admin", device)
		return appErrors.ErrSelfModification
	}
	if !s.IsSuperAdmin(ctx, actor.ID) {
		s.recordEscalation(ctx, actor, targetID, models.RoleUser, device)
		return appErrors.ErrInsufficientRole
	}

	target, err := s.loadTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleSuperAdmin || s.IsSuperAdmin(ctx, targetID) {
		return appErrors.Clone(appErrors.ErrInsufficientRole, "superadmins must be demoted to admin first")
	}
	if target.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrConflict, "user is not an admin")
	}

	return s.changeRole(ctx, actor, target, models.RoleUser, device)
}

// RemoveSuperAdmin demotes a superadmin one step, to admin. Removing the
// admin grant afterwards is a separate operation so that authority is
// always shed gradually.
func (s *RoleService) RemoveSuperAdmin(ctx context.Context, actor models.Principal, targetID string, device models.DeviceInfo) error {
	if actor.ID == targetID {
		s.recordSelfModification(ctx, actor.ID, "remove_superadmin", device)
		return appErrors.ErrSelfModification
	}
	if !s.IsSuperAdmin(ctx, actor.ID) {
		s.recordEscalation(ctx, actor, targetID, models.RoleAdmin, device)
		return appErrors.ErrInsufficientRole
	}

	target, err := s.loadTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role != models.RoleSuperAdmin {
		return appErrors.Clone(appErrors.ErrConflict, "user is not a superadmin")
	}

	return s.changeRole(ctx, actor, target, models.RoleAdmin, device)
}

// RemoveCounselor strips the counselor role from the target.
func (s *RoleService) RemoveCounselor(ctx context.Context, actor models.Principal, targetID string, device models.DeviceInfo) error {
	if actor.ID == targetID {
		s.recordSelfModification(ctx, actor.ID, "remove_counselor", device)
		return appErrors.ErrSelfModification
	}
	if !s.IsAdmin(ctx, actor.ID) {
		s.recordEscalation(ctx, actor, targetID, models.RoleUser, device)
		return appErrors.ErrInsufficientRole
	}

	target, err := s.loadTarget(ctx, targetID)
	if err != nil {
		return err
	}
	if target.Role != models.RoleCounselor {
		return appErrors.Clone(appErrors.ErrConflict, "user is not a counselor")
	}

	return s.changeRole(ctx, actor, target, models.RoleUser, device)
}

func (s *RoleService) loadTarget(ctx context.Context, targetID string) (*models.User, error) {
	target, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !target.Usable() {
		return nil, appErrors.Clone(appErrors.ErrAccountDisabled, "account is disabled")
	}
	return target, nil
}

// changeRole performs the transactional role flip, then kills the target's
// credentials so that tokens carrying the old role stop working.
func (s *RoleService) changeRole(ctx context.Context, actor models.Principal, target *models.User, newRole models.UserRole, device models.DeviceInfo) error {
	err := database.Retry(ctx, 1, 100*time.Millisecond, func() error {
		return s.roles.ChangeRole(ctx, target.ID, target.Role, newRole, actor.ID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change role")
	}

	if err := s.tokens.RevokeAllAndTerminate(ctx, target.ID, models.RevokeReasonAdminRevoked); err != nil {
		s.logger.Warn("failed to revoke credentials after role change",
			zap.String("user_id", target.ID), zap.Error(err))
	}
	if err := s.sessions.Terminate(ctx, target.ID); err != nil {
		s.logger.Warn("failed to terminate session after role change",
			zap.String("user_id", target.ID), zap.Error(err))
	}

	entry := &models.AuditLog{
		UserID:     &actor.ID,
		Action:     models.AuditActionRoleChange,
		Resource:   "roles",
		ResourceID: &target.ID,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
		OldValues:  Detail(map[string]interface{}{"role": string(target.Role)}),
		NewValues:  Detail(map[string]interface{}{"role": string(newRole)}),
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record role change audit log", zap.Error(err))
	}

	return nil
}

func (s *RoleService) recordEscalation(ctx context.Context, actor models.Principal, targetID string, requested models.UserRole, device models.DeviceInfo) {
	s.security.Record(ctx, &models.SecurityEvent{
		Severity:  models.SeverityHigh,
		Kind:      models.EventPrivilegeEscalation,
		UserID:    &targetID,
		ActorID:   &actor.ID,
		IP:        device.IP,
		UserAgent: device.UserAgent,
		Detail: Detail(map[string]interface{}{
			"actor_role":     string(actor.Role),
			"requested_role": string(requested),
		}),
	})
}

func (s *RoleService) recordSelfModification(ctx context.Context, actorID, operation string, device models.DeviceInfo) {
	s.security.Record(ctx, &models.SecurityEvent{
		Severity:  models.SeverityMedium,
		Kind:      models.EventSelfModification,
		UserID:    &actorID,
		ActorID:   &actorID,
		IP:        device.IP,
		UserAgent: device.UserAgent,
		Detail:    Detail(map[string]interface{}{"operation": operation}),
	})
}
